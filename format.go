package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/shopspring/decimal"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// statusf prints user-facing progress messages to stdout. Suppressed by
// --quiet and by --json (machine output must stay parseable).
func statusf(format string, args ...any) {
	if flagQuiet || flagJSON {
		return
	}

	fmt.Printf(format+"\n", args...)
}

// stdoutIsTTY reports whether stdout is an interactive terminal.
func stdoutIsTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// formatTime renders a Unix-nanosecond timestamp for humans. Zero means
// the event has never happened.
func formatTime(ns int64) string {
	if ns == 0 {
		return "never"
	}

	return ledger.FromUnixNano(ns).Local().Format("2006-01-02 15:04:05")
}

// formatAmount renders a transaction amount with its sign derived from the
// kind: expenses negative, income positive.
func formatAmount(kind ledger.Kind, amount decimal.Decimal) string {
	if kind == ledger.KindExpense {
		return "-" + amount.StringFixed(2)
	}

	return amount.StringFixed(2)
}

// printTable renders rows in aligned columns. On a terminal the header row
// is included; when piped, output is plain tab-separated values without a
// header so it composes with cut/awk.
func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	if stdoutIsTTY() {
		printRow(w, headers)
	}

	for _, row := range rows {
		printRow(w, row)
	}

	w.Flush()
}

func printRow(w *tabwriter.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}

		fmt.Fprint(w, cell)
	}

	fmt.Fprintln(w)
}

// writeJSON emits v as indented JSON on stdout, for --json output.
func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return nil
}

// parseDate accepts a YYYY-MM-DD date or a full RFC 3339 timestamp and
// returns Unix nanoseconds.
func parseDate(s string) (int64, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UnixNano(), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q (expected YYYY-MM-DD or RFC 3339)", s)
	}

	return t.UnixNano(), nil
}
