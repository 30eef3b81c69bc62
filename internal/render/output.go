// Package render provides output formatting for terminal and machine consumption.
package render

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/joss/playsync/internal/domain"
	"github.com/joss/playsync/internal/pipeline"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a new renderer. Non-pretty output is JSON or plain text.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// Auto renders pretty output only when f is a terminal.
func Auto(f *os.File) *Renderer {
	return New(term.IsTerminal(int(f.Fd())))
}

// Pretty reports whether output is styled for a terminal.
func (r *Renderer) Pretty() bool {
	return r.pretty
}

// Report formats a run report.
func (r *Renderer) Report(rep *pipeline.Report) (string, error) {
	if !r.pretty {
		data, err := rep.JSON()
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	}

	var sb strings.Builder
	sb.WriteString(color.CyanString("Sync %s\n", rep.RunID))
	sb.WriteString(strings.Repeat("─", 50) + "\n")

	state := color.GreenString("%s %s", BoolIcon(true), rep.TerminalState)
	if !rep.Success() {
		state = color.RedString("%s %s", BoolIcon(false), rep.TerminalState)
	}
	fmt.Fprintf(&sb, "  State:     %s (last stage %s)\n", state, rep.LastState)
	fmt.Fprintf(&sb, "  Extracted: %d\n", rep.Extracted)
	fmt.Fprintf(&sb, "  Upserted:  %s\n", color.GreenString("%d", rep.Upserted))
	if rep.Failed > 0 {
		fmt.Fprintf(&sb, "  Failed:    %s\n", color.YellowString("%d", rep.Failed))
		for _, t := range rep.FailedTitles {
			fmt.Fprintf(&sb, "    └─ %s\n", Truncate(t, 60))
		}
	} else {
		fmt.Fprintf(&sb, "  Failed:    0\n")
	}
	fmt.Fprintf(&sb, "  Duration:  %s\n", FormatDuration(rep.FinishedAt.Sub(rep.StartedAt)))

	stages := make([]string, 0, len(rep.Durations))
	for s := range rep.Durations {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool { return stageOrder(stages[i]) < stageOrder(stages[j]) })
	for _, s := range stages {
		fmt.Fprintf(&sb, "    %-13s %s\n", s, color.HiBlackString(FormatDuration(time.Duration(rep.Durations[s])*time.Millisecond)))
	}

	if rep.Error != "" {
		fmt.Fprintf(&sb, "  Error:     %s\n", color.RedString(rep.Error))
	}
	if rep.CloseError != "" {
		fmt.Fprintf(&sb, "  Close:     %s\n", color.YellowString(rep.CloseError))
	}
	return sb.String(), nil
}

func stageOrder(s string) int {
	for i, name := range []string{"acquire", "authenticate", "extract", "drain", "close"} {
		if s == name {
			return i
		}
	}
	return 99
}

// Check is one line of the status command.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Status formats readiness checks.
func (r *Renderer) Status(checks []Check) string {
	if !r.pretty {
		data, _ := json.Marshal(checks)
		return string(data) + "\n"
	}

	var sb strings.Builder
	sb.WriteString(color.CyanString("playsync status\n"))
	sb.WriteString(strings.Repeat("─", 40) + "\n")
	for _, c := range checks {
		state := color.GreenString("%s ok", BoolIcon(true))
		if !c.OK {
			state = color.RedString("%s down", BoolIcon(false))
		}
		fmt.Fprintf(&sb, "  %-9s %s", c.Name+":", state)
		if c.Detail != "" {
			fmt.Fprintf(&sb, "  %s", color.HiBlackString(c.Detail))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Games formats recorded games.
func (r *Renderer) Games(games []domain.PlayedGame) string {
	if len(games) == 0 {
		return "No games recorded\n"
	}

	var sb strings.Builder
	for _, g := range games {
		if r.pretty {
			fmt.Fprintf(&sb, "%s %s %s\n",
				color.GreenString(BoolIcon(true)),
				g.Title,
				color.HiBlackString("first %s, last %s", g.FirstSeen.Local().Format(time.DateTime), g.LastSeen.Local().Format(time.DateTime)))
		} else {
			fmt.Fprintf(&sb, "%s\t%s\t%s\n", g.Title, g.FirstSeen.UTC().Format(time.RFC3339), g.LastSeen.UTC().Format(time.RFC3339))
		}
	}
	return sb.String()
}

// LoginPrompt is shown while the run waits for a manual login.
func (r *Renderer) LoginPrompt(viewerURL string, timeout time.Duration) string {
	msg := fmt.Sprintf("Log in through the remote browser at %s (waiting up to %s)", viewerURL, FormatDuration(timeout))
	if r.pretty {
		return color.YellowString("→ %s\n", msg)
	}
	return msg + "\n"
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
