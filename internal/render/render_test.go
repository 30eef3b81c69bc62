package render

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/pipeline"
)

func init() {
	color.NoColor = true
}

func sampleReport() *pipeline.Report {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &pipeline.Report{
		RunID:         "01HXYZ",
		Extracted:     10,
		Upserted:      9,
		Failed:        1,
		FailedTitles:  []string{"Title 7"},
		TerminalState: pipeline.TerminalSuccess,
		LastState:     pipeline.StateDraining,
		Durations:     map[string]int64{"close": 5, "acquire": 1200, "extract": 40000},
		StartedAt:     start,
		FinishedAt:    start.Add(95 * time.Second),
	}
}

func TestReportJSON(t *testing.T) {
	out, err := New(false).Report(sampleReport())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, float64(9), decoded["upserted"])
	assert.Equal(t, "Closed(Success)", decoded["terminalState"])
}

func TestReportPretty(t *testing.T) {
	out, err := New(true).Report(sampleReport())
	require.NoError(t, err)

	assert.Contains(t, out, "Sync 01HXYZ")
	assert.Contains(t, out, "Closed(Success)")
	assert.Contains(t, out, "Upserted:  9")
	assert.Contains(t, out, "└─ Title 7")
	assert.Contains(t, out, "1m35s")
	assert.Less(t, strings.Index(out, "acquire"), strings.Index(out, "extract"))
	assert.Less(t, strings.Index(out, "extract"), strings.Index(out, "close"))
}

func TestStatus(t *testing.T) {
	checks := []Check{{Name: "backend", OK: true}, {Name: "store", OK: false, Detail: "connection refused"}}

	pretty := New(true).Status(checks)
	assert.Contains(t, pretty, "backend:  ✓ ok")
	assert.Contains(t, pretty, "✗ down")
	assert.Contains(t, pretty, "connection refused")

	var decoded []Check
	require.NoError(t, json.Unmarshal([]byte(New(false).Status(checks)), &decoded))
	assert.Equal(t, checks, decoded)
}

func TestGames(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	out := New(false).Games([]domain.PlayedGame{{Title: "ELDEN RING", FirstSeen: at, LastSeen: at}})
	assert.Equal(t, "ELDEN RING\t2024-05-01T10:00:00Z\t2024-05-01T10:00:00Z\n", out)
	assert.Equal(t, "No games recorded\n", New(true).Games(nil))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "10m0s", FormatDuration(10*time.Minute))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "Ghost o...", Truncate("Ghost of Tsushima", 10))
	assert.Equal(t, "ゼルダ", Truncate("ゼルダの伝説", 3))
}
