package pipeline

import (
	"encoding/json"
	"time"
)

// State is a pipeline lifecycle stage.
type State string

const (
	StateIdle            State = "Idle"
	StateSessionAcquired State = "SessionAcquired"
	StateAuthenticated   State = "Authenticated"
	StateExtracting      State = "Extracting"
	StateDraining        State = "Draining"
	StateClosed          State = "Closed"
)

// Terminal states as printed in the report.
const (
	TerminalSuccess = "Closed(Success)"
	TerminalFailure = "Closed(Failure)"
)

// Report summarizes one run. It is produced after the session is closed.
type Report struct {
	RunID         string   `json:"runId"`
	Extracted     int      `json:"extracted"`
	Upserted      int      `json:"upserted"`
	Failed        int      `json:"failed"`
	TerminalState string   `json:"terminalState"`
	Error         string   `json:"error,omitempty"`
	FailedTitles  []string `json:"failedTitles,omitempty"`
	// LastState is the stage the run was in when it ended.
	LastState  State            `json:"lastState"`
	States     []State          `json:"states"`
	CloseError string           `json:"closeError,omitempty"`
	Durations  map[string]int64 `json:"durationsMs"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`

	// Err is the error that ended the run, nil on success.
	Err error `json:"-"`
}

// Success reports whether the run closed without a run-ending error.
func (r *Report) Success() bool {
	return r.TerminalState == TerminalSuccess
}

// JSON renders the report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// summary is the flat form persisted on the run node.
func (r *Report) summary() map[string]any {
	return map[string]any{
		"extracted":     r.Extracted,
		"upserted":      r.Upserted,
		"failed":        r.Failed,
		"terminalState": r.TerminalState,
		"lastState":     string(r.LastState),
		"error":         r.Error,
		"durationMs":    r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}
