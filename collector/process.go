package collector

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMemory reports the resident set size of one process.
type ProcessMemory struct {
	proc *process.Process
}

// NewProcessMemory watches the current process.
func NewProcessMemory(ctx context.Context) (*ProcessMemory, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &ProcessMemory{proc: p}, nil
}

// RSS returns the resident set size in bytes.
func (m *ProcessMemory) RSS(ctx context.Context) (uint64, error) {
	info, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}
