package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"HistPull/internal/domain/models"
	"HistPull/internal/repository"

	"github.com/jedib0t/go-pretty/v6/table"
)

func renderSummary(w io.Writer, s models.RunSummary) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Acquisition summary")

	outcome := "succeeded"
	if !s.Succeeded() {
		outcome = "incomplete"
	}
	t.AppendRows([]table.Row{
		{"Run", s.RunID},
		{"Outcome", outcome},
		{"Elapsed", s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()},
		{"Tasks offered", s.Offered},
		{"Tasks", fmt.Sprintf("%d total, %d completed, %d failed, %d pending",
			s.Tasks.Total, s.Tasks.Completed, s.Tasks.Failed, s.Tasks.Pending)},
		{"Records", s.Records},
		{"Empty ranges", s.EmptyRanges},
		{"Needs review", s.NeedsReview},
		{"Rate-limit violations", s.Violations},
		{"Calls today", s.CallsToday},
	})
	if s.FatalCause != "" {
		t.AppendRow(table.Row{"Halted by", s.FatalCause})
	}
	t.Render()

	if len(s.Fatal) == 0 && len(s.Transient) == 0 {
		return nil
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.SetStyle(table.StyleRounded)
	ft.AppendHeader(table.Row{"Failure", "Class", "Count"})
	for _, k := range sortedKeys(s.Fatal) {
		ft.AppendRow(table.Row{k, "fatal", s.Fatal[k]})
	}
	for _, k := range sortedKeys(s.Transient) {
		ft.AppendRow(table.Row{k, "transient", s.Transient[k]})
	}
	ft.Render()
	return nil
}

func renderTasks(w io.Writer, view *repository.SnapshotView, filter models.TaskStatus, limit int) error {
	c := view.Counters
	fmt.Fprintf(w, "Run %s, updated %s\n", view.RunID, view.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Tasks: %d total, %d pending, %d downloading, %d completed, %d failed\n",
		c.Total, c.Pending, c.Downloading, c.Completed, c.Failed)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "TF", "Status", "Progress", "Records", "Retries", "Notes"})

	shown, matched := 0, 0
	for _, task := range view.Tasks {
		if filter != "" && task.Status != filter {
			continue
		}
		matched++
		if limit > 0 && shown >= limit {
			continue
		}
		shown++
		t.AppendRow(table.Row{
			task.Symbol,
			string(task.Timeframe),
			string(task.Status),
			fmt.Sprintf("%d/%d", task.SubrangesDone, task.SubrangesTotal),
			task.Records,
			task.RetryCount,
			taskNotes(task),
		})
	}
	if matched > shown {
		t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d more not shown", matched-shown)})
	}
	t.Render()
	return nil
}

func taskNotes(t models.DownloadTask) string {
	var notes []string
	if t.NeedsReview {
		notes = append(notes, "needs review")
	}
	if t.Error != "" {
		notes = append(notes, t.Error)
	}
	return strings.Join(notes, "; ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
