package script

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Label identifies the mental task recorded during a phase
type Label int

const (
	Rest   Label = 0 // Remain mentally relaxed
	Switch Label = 1 // Imagine toggling a switch
)

// String returns the display name of the label
func (l Label) String() string {
	switch l {
	case Rest:
		return "REST"
	case Switch:
		return "SWITCH"
	default:
		return fmt.Sprintf("Label(%d)", int(l))
	}
}

// Valid reports whether the label is one of the known classes
func (l Label) Valid() bool {
	return l == Rest || l == Switch
}

// ParseLabel converts a label name ("REST", "switch") or number ("0", "1")
func ParseLabel(s string) (Label, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REST", "0":
		return Rest, nil
	case "SWITCH", "1":
		return Switch, nil
	default:
		return 0, fmt.Errorf("invalid label: %q (must be REST or SWITCH)", s)
	}
}

// Phase is one named, timed segment of the script.
// Label is meaningful only when Record is set.
type Phase struct {
	Name     string
	Duration time.Duration
	Record   bool
	Label    Label
	Color    string // Cue color for the presentation layer
}

// IsRecording reports whether samples are collected during the phase
func (p Phase) IsRecording() bool {
	return p.Record
}

// String returns a short description, e.g. "Imagine SWITCH (6s, label=1)"
func (p Phase) String() string {
	if p.Record {
		return fmt.Sprintf("%s (%v, label=%d)", p.Name, p.Duration, int(p.Label))
	}
	return fmt.Sprintf("%s (%v)", p.Name, p.Duration)
}

// Script is an ordered, cyclic sequence of phases.
// One traversal of the script is a block.
type Script []Phase

// ErrEmptyScript is returned by Validate for a script without phases
var ErrEmptyScript = errors.New("script has no phases")

// Validate checks that the script can be run
func (s Script) Validate() error {
	if len(s) == 0 {
		return ErrEmptyScript
	}
	for i, p := range s {
		if p.Duration <= 0 {
			return fmt.Errorf("phase %d %q has invalid duration: %v (must be positive)", i, p.Name, p.Duration)
		}
		if p.Record && !p.Label.Valid() {
			return fmt.Errorf("phase %d %q has invalid label: %d (must be 0 or 1)", i, p.Name, int(p.Label))
		}
	}
	return nil
}

// RecordingPhases returns the number of phases which produce a trial
func (s Script) RecordingPhases() int {
	n := 0
	for _, p := range s {
		if p.Record {
			n++
		}
	}
	return n
}

// BlockDuration returns the time needed for one traversal of the script
func (s Script) BlockDuration() time.Duration {
	var total time.Duration
	for _, p := range s {
		total += p.Duration
	}
	return total
}

// Recording returns a phase which records samples with given label
func Recording(name string, d time.Duration, label Label, color string) Phase {
	return Phase{Name: name, Duration: d, Record: true, Label: label, Color: color}
}

// Cue returns a phase which only displays a cue
func Cue(name string, d time.Duration, color string) Phase {
	return Phase{Name: name, Duration: d, Color: color}
}

// Default returns the SWITCH vs REST script: each block records
// one SWITCH trial and one REST trial of 6 seconds.
func Default() Script {
	ms := time.Millisecond
	return Script{
		Cue("Get ready: SWITCH", 3000*ms, "darkblue"),
		Cue("Focus", 2000*ms, "black"),
		Cue("SWITCH", 2000*ms, "blue"),
		Recording("Imagine SWITCH", 6000*ms, Switch, "blue"),
		Cue("Focus", 2000*ms, "black"),
		Cue("Get ready: REST", 3000*ms, "darkgreen"),
		Cue("Focus", 2000*ms, "black"),
		Cue("REST", 2000*ms, "green"),
		Recording("Imagine REST", 6000*ms, Rest, "green"),
		Cue("Focus", 2000*ms, "black"),
	}
}

// Limits on the number of blocks in one run
const (
	DefaultBlocks = 20
	MaxBlocks     = 100
)
