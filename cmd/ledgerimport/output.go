package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/fatih/color"
	"github.com/google/uuid"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

// header prints a section title underlined to its width.
func header(w io.Writer, text string) {
	bold.Fprintf(w, "\n%s\n", text)
	green.Fprintf(w, "%s\n", strings.Repeat("=", len(text)))
}

func printHint(w io.Writer, text string) {
	blue.Fprintf(w, "  → %s\n", text)
}

// printError writes the user-facing message for err to stderr.
func printError(err error) {
	if core.IsUserFacing(err) {
		red.Fprintf(os.Stderr, "Error: %s\n", core.FormatUserError(err))
		fmt.Fprintf(os.Stderr, "  %v\n", err)
		return
	}
	red.Fprintf(os.Stderr, "Error: %v\n", err)
}

func printFormats(w io.Writer, formats []core.FormatInfo, presets *core.Presets) {
	header(w, "Formats")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tLABEL\tEXTENSIONS\tDEDUP\tPUBLISHABLE")
	for _, f := range formats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
			f.Kind, f.Traits.Label, strings.Join(f.Traits.Extensions, " "), f.Dedup, f.Traits.Publishable)
	}
	tw.Flush()

	header(w, "Presets")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tNAME\tDESCRIPTION")
	for _, p := range presets.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Format, p.Name, p.Description)
	}
	tw.Flush()
}

func printSummary(w io.Writer, title string, imp *domain.Import, s *core.Summary) {
	header(w, fmt.Sprintf("%s: %s import %s", title, imp.Format, imp.ID))
	if s.DryRun {
		yellow.Fprintln(w, "  dry run, nothing was written")
	}
	counts := []struct {
		label string
		n     int
	}{
		{"transactions", s.Transactions},
		{"trades", s.Trades},
		{"opening balances", s.OpeningBalances},
		{"updated", s.Updated},
		{"duplicates", s.Duplicates},
		{"skipped", s.Skipped},
		{"new accounts", s.Accounts},
		{"new categories", s.Categories},
		{"new tags", s.Tags},
		{"new securities", s.Securities},
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range counts {
		if c.n == 0 {
			continue
		}
		fmt.Fprintf(tw, "  %s\t%d\n", c.label, c.n)
	}
	tw.Flush()

	if len(s.ByType) > 0 {
		types := make([]string, 0, len(s.ByType))
		for t := range s.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprint(w, "  by type:")
		for _, t := range types {
			fmt.Fprintf(w, " %s=%d", t, s.ByType[t])
		}
		fmt.Fprintln(w)
	}
	green.Fprintf(w, "  status: %s\n", imp.Status)
}

func printIssues(w io.Writer, issues []core.RowIssue) {
	header(w, fmt.Sprintf("%d row issues", len(issues)))
	for _, issue := range issues {
		red.Fprintf(w, "  ✗ %s\n", issue.Error())
	}
}

func printRevert(w io.Writer, id uuid.UUID, r *core.RevertResult) {
	header(w, fmt.Sprintf("Reverted import %s", id))
	kinds := make([]string, 0, len(r.Deleted))
	for k := range r.Deleted {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  deleted %s: %d\n", k, r.Deleted[k])
	}
	if r.Restored > 0 {
		fmt.Fprintf(w, "  restored entries: %d\n", r.Restored)
	}
	if r.Kept > 0 {
		yellow.Fprintf(w, "  kept %d records still in use elsewhere\n", r.Kept)
	}
}

func printImport(w io.Writer, imp *domain.Import, rows []domain.Row) {
	header(w, fmt.Sprintf("%s import %s", imp.Format, imp.ID))
	fmt.Fprintf(w, "  status:  %s\n", imp.Status)
	if imp.AccountID != nil {
		fmt.Fprintf(w, "  account: %s\n", imp.AccountID)
	}
	if imp.Error != "" {
		red.Fprintf(w, "  error:   %s\n", imp.Error)
	}
	fmt.Fprintf(w, "  rows:    %d\n", imp.RowsCount)
	if len(rows) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\n  #\tDATE\tAMOUNT\tCURRENCY\tNAME\tCATEGORY")
	for _, r := range rows {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n", r.Index, r.Date, r.Amount, r.Currency, r.Name, r.Category)
	}
	tw.Flush()
}
