package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sells-group/crossref-cli/internal/model"
	"github.com/sells-group/crossref-cli/internal/scheduler"
)

var resultHeaders = []string{"Competitor SKU", "Company", "Match", "Stage", "Confidence", "Quality", "Flags"}

// numeric columns are right aligned.
var resultNumeric = map[int]bool{4: true, 5: true}

func renderTable(headers []string, rows [][]string, numeric map[int]bool) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if numeric[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func resultRows(results []*model.NormalizedResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		match := "-"
		if r.Match != nil {
			match = r.Match.SKU
		}
		flags := make([]string, len(r.Flags))
		for i, f := range r.Flags {
			flags[i] = string(f)
		}
		rows = append(rows, []string{
			r.Competitor.SKU,
			r.Competitor.Company,
			match,
			string(r.Stage),
			fmt.Sprintf("%.2f", r.Confidence),
			fmt.Sprintf("%.2f", r.QualityScore),
			strings.Join(flags, ", "),
		})
	}
	return rows
}

// jobSummary renders a finished job as a result table followed by totals.
func jobSummary(snap scheduler.Snapshot) string {
	var b strings.Builder
	if len(snap.Results) > 0 {
		b.WriteString(renderTable(resultHeaders, resultRows(snap.Results), resultNumeric))
		b.WriteString("\n")
	}
	if len(snap.Errors) > 0 {
		rows := make([][]string, len(snap.Errors))
		for i, e := range snap.Errors {
			rows[i] = []string{fmt.Sprintf("%d", e.Index), e.SKU, e.Message}
		}
		b.WriteString(renderTable([]string{"#", "Competitor SKU", "Error"}, rows, map[int]bool{0: true}))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "job %s %s: %d/%d resolved, %d cached, %d failed, $%.4f external cost\n",
		snap.ID, snap.Status, snap.Progress.Completed, snap.Progress.Total,
		snap.Progress.Cached, snap.Progress.Failed, snap.CostUSD)
	if snap.Error != "" {
		fmt.Fprintf(&b, "reason: %s\n", snap.Error)
	}
	return b.String()
}
