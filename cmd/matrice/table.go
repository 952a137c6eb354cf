package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"matrice/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// statusLabel renders a job status for humans, e.g. "Generating".
func statusLabel(s domain.JobStatus, colorize bool) string {
	label := titleCaser.String(string(s))
	if !colorize {
		return label
	}
	if color := statusColor(s); color != "" {
		return color + label + ansiReset
	}
	return label
}

func statusColor(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusComplete:
		return ansiGreen
	case domain.JobStatusError:
		return ansiRed
	case domain.JobStatusDownloading:
		return ansiYellow
	case domain.JobStatusGenerating:
		return ansiBlue
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func jobResult(j domain.Job) string {
	if j.Status == domain.JobStatusError {
		return j.ErrorMessage
	}
	return j.URL
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(j domain.Job) string {
	if j.StartTime.IsZero() || j.EndTime.IsZero() {
		return "-"
	}
	return j.EndTime.Sub(j.StartTime).Round(100 * time.Millisecond).String()
}

func jobRows(jobs []domain.Job, colorize bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			shortID(j.ID),
			statusLabel(j.Status, colorize),
			fmt.Sprintf("%d", j.Seed),
			formatDuration(j),
			jobResult(j),
		})
	}
	return rows
}

var jobHeaders = []string{"ID", "Status", "Seed", "Took", "Result"}
var jobAligns = []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}
