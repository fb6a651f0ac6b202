package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gcconfirm/confirm"
	"gcconfirm/storage"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func printResult(w io.Writer, res confirm.Result) error {
	table := newTable(w)
	table.SetColumnSeparator(":")
	table.SetAutoFormatHeaders(false)
	pairs := [][2]string{
		{"Outcome", string(res.Outcome)},
		{"Confirmed", strconv.FormatBool(res.Confirmed)},
		{"Cycles", strconv.FormatUint(res.Cycles, 10)},
		{"Polls", strconv.Itoa(res.Polls)},
		{"Elapsed", res.Elapsed.Round(time.Millisecond).String()},
		{"Interrupted", strconv.FormatBool(res.Interrupted)},
		{"Counters", strings.Join(res.Tracked, ", ")},
	}
	if res.RSSBefore > 0 {
		pairs = append(pairs,
			[2]string{"RSS before", humanize.IBytes(res.RSSBefore)},
			[2]string{"RSS after", humanize.IBytes(res.RSSAfter)},
		)
	}
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
	return nil
}

func printHistory(w io.Writer, recs []storage.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no confirmations recorded")
		return err
	}
	table := newTable(w)
	table.SetColumnSeparator("")
	table.SetHeader([]string{"ID", "Started", "Outcome", "Cycles", "Polls", "Elapsed", "Interrupted", "RSS freed"})
	for _, r := range recs {
		freed := "-"
		if r.RSSBefore > 0 && r.RSSAfter > 0 {
			if r.RSSBefore >= r.RSSAfter {
				freed = humanize.IBytes(r.RSSBefore - r.RSSAfter)
			} else {
				freed = "-" + humanize.IBytes(r.RSSAfter-r.RSSBefore)
			}
		}
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Outcome),
			strconv.FormatUint(r.Cycles, 10),
			strconv.Itoa(r.Polls),
			r.Elapsed.Round(time.Millisecond).String(),
			strconv.FormatBool(r.Interrupted),
			freed,
		})
	}
	table.Render()
	return nil
}
