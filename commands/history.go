package commands

import (
	"fmt"
	"time"

	"gcconfirm/confirm"
	"gcconfirm/storage"

	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historyOutcome string
	historySince   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded confirmations",
	Long: `List confirmations stored in --db, oldest first.

Examples:
  # Last 20 confirmations
  gcconfirm history

  # Failures of the last hour
  gcconfirm history --since 1h --outcome not_detected`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "show at most this many records (0 for all)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "only show this outcome: confirmed, blind, not_detected, not_stabilized")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only show confirmations started within this duration")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	switch confirm.Outcome(historyOutcome) {
	case "", confirm.OutcomeConfirmed, confirm.OutcomeBlind, confirm.OutcomeNotDetected, confirm.OutcomeNotStabilized:
	default:
		return fmt.Errorf("unknown outcome %q", historyOutcome)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	f := storage.Filter{Outcome: confirm.Outcome(historyOutcome), Limit: historyLimit}
	if historySince > 0 {
		f.From = time.Now().Add(-historySince)
	}
	recs, err := store.Query(cmd.Context(), f)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), recs)
}
