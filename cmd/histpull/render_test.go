package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"HistPull/internal/domain/models"
	"HistPull/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSummary_Incomplete(t *testing.T) {
	start := time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)
	s := models.RunSummary{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Tasks:      models.TaskCounters{Total: 3, Completed: 1, Failed: 1, Pending: 1},
		Records:    766,
		Fatal:      map[string]int{"auth_expired": 1},
		Transient:  map[string]int{"timeout": 2},
		FatalCause: "auth_expired",
	}

	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "incomplete")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "Halted by")
	assert.Contains(t, out, "auth_expired")
	assert.Contains(t, out, "timeout")
}

func TestRenderTasks_FilterAndLimit(t *testing.T) {
	view := &repository.SnapshotView{
		RunID:    "run-1",
		Counters: models.TaskCounters{Total: 3, Completed: 1, Failed: 2},
		Tasks: []models.DownloadTask{
			{Symbol: "NSE:A-EQ", Timeframe: models.TF1D, Status: models.StatusCompleted, NeedsReview: true},
			{Symbol: "NSE:B-EQ", Timeframe: models.TF1D, Status: models.StatusFailed, Error: "interrupted"},
			{Symbol: "NSE:C-EQ", Timeframe: models.TF1D, Status: models.StatusFailed, Error: "transient after 3 attempts"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderTasks(&buf, view, models.StatusFailed, 1))
	out := buf.String()
	assert.Contains(t, out, "NSE:B-EQ")
	assert.NotContains(t, out, "NSE:A-EQ")
	assert.NotContains(t, out, "NSE:C-EQ")
	// go-pretty upper-cases footers.
	assert.Contains(t, strings.ToLower(out), "1 more not shown")

	buf.Reset()
	require.NoError(t, renderTasks(&buf, view, "", 0))
	assert.Contains(t, buf.String(), "needs review")
}
