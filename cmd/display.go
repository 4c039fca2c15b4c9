package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sergev/bci/collect"
	"github.com/sergev/bci/script"
)

// ANSI colors for the phase names used in scripts
var ansiColors = map[string]string{
	"black":     "30",
	"red":       "31",
	"green":     "32",
	"yellow":    "33",
	"blue":      "34",
	"magenta":   "35",
	"cyan":      "36",
	"white":     "37",
	"gray":      "90",
	"darkred":   "2;31",
	"darkgreen": "2;32",
	"darkblue":  "2;34",
}

// presenter renders session events as terminal cues
type presenter struct {
	w     io.Writer
	color bool
	block int // Last block announced, to print the header once
}

func newPresenter(w io.Writer) *presenter {
	return &presenter{w: w, color: isTerminal(w), block: -1}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}

func (p *presenter) paint(text, color string) string {
	code, ok := ansiColors[strings.ToLower(color)]
	if !p.color || !ok {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func (p *presenter) show(e collect.Event) {
	switch e.Kind {
	case collect.PhaseEntered:
		if e.Block != p.block {
			p.block = e.Block
			fmt.Fprintf(p.w, "Block %d of %d\n", e.Block+1, e.Blocks)
		}
		line := fmt.Sprintf("  %-20s %4.1fs", e.Phase.Name, e.Phase.Duration.Seconds())
		if e.Phase.Record {
			line += "  recording " + e.Phase.Label.String()
		}
		fmt.Fprintln(p.w, p.paint(line, e.Phase.Color))

	case collect.TrialRecorded:
		if e.Short {
			fmt.Fprintf(p.w, "  Trial %d: %s, %d samples (short)\n", e.Trials, e.Label, e.Samples)
		}

	case collect.Paused:
		fmt.Fprintf(p.w, "Paused with %.1fs left in phase. Press r to resume, q to stop.\n", e.Remaining.Seconds())

	case collect.Resumed:
		fmt.Fprintf(p.w, "Resumed.\n")

	case collect.RunFinished:
		fmt.Fprintf(p.w, "Run %s after %d of %d blocks, %d trials.\n", strings.ToLower(e.State.String()), e.Block, e.Blocks, e.Trials)
	}
}

// savedMessage is the completion line, e.g. "Saved 40 trials (20 REST, 20 SWITCH)"
func savedMessage(trials, rest, sw int) string {
	return fmt.Sprintf("Saved %d trials (%d %s, %d %s)", trials, rest, script.Rest, sw, script.Switch)
}
