package sequencer

import (
	"errors"
	"fmt"
	"time"

	"github.com/sergev/bci/script"
)

// ErrConfiguration is returned by Start for an unusable script or block count
var ErrConfiguration = errors.New("invalid run configuration")

// State of the sequencer
type State int

const (
	Idle State = iota
	Running
	Paused
	Completed // Terminal: all blocks done
	Stopped   // Terminal: forced stop or acquisition failure
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no transitions leave the state except Start
func (s State) Terminal() bool {
	return s == Completed || s == Stopped
}

// EventKind tells what happened on a transition
type EventKind int

const (
	PhaseEntered EventKind = iota
	PhaseEnding
	RunFinished
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case PhaseEntered:
		return "phase_entered"
	case PhaseEnding:
		return "phase_ending"
	case RunFinished:
		return "run_finished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted by the sequencer on every transition.
// For RunFinished, Phase is the zero value and State is the terminal state.
type Event struct {
	Kind       EventKind
	Phase      script.Phase
	PhaseIndex int
	Block      int // Zero-based block of Phase; blocks completed for RunFinished
	State      State
}

// Snapshot is the timing state of a run
type Snapshot struct {
	Block            int
	PhaseIndex       int
	Elapsed          time.Duration
	Paused           bool
	RemainingOnPause time.Duration
}

// Sequencer advances through a script on explicit ticks.
// It is not safe for concurrent use: one timing context owns it.
type Sequencer struct {
	script  script.Script
	blocks  int
	subject string
	state   State
	snap    Snapshot
}

// New returns an idle sequencer
func New() *Sequencer {
	return &Sequencer{}
}

// Validate checks the arguments of Start without changing any state
func Validate(s script.Script, blocks int) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if blocks < 1 {
		return fmt.Errorf("%w: invalid block count: %d (must be positive)", ErrConfiguration, blocks)
	}
	return nil
}

// Start begins a run of the given number of blocks.
// On failure the sequencer is left untouched.
func (q *Sequencer) Start(s script.Script, blocks int, subject string) ([]Event, error) {
	if err := Validate(s, blocks); err != nil {
		return nil, err
	}
	q.script = append(script.Script(nil), s...)
	q.blocks = blocks
	q.subject = subject
	q.snap = Snapshot{}
	q.state = Running
	return []Event{q.entered()}, nil
}

// Tick advances the current phase by delta.
// Time beyond the end of a phase is not carried into the next one.
func (q *Sequencer) Tick(delta time.Duration) []Event {
	if q.state != Running || delta <= 0 {
		return nil
	}
	q.snap.Elapsed += delta
	cur := q.script[q.snap.PhaseIndex]
	if q.snap.Elapsed < cur.Duration {
		return nil
	}

	events := []Event{q.ending()}
	q.snap.Elapsed = 0
	q.snap.PhaseIndex++
	if q.snap.PhaseIndex >= len(q.script) {
		q.snap.PhaseIndex = 0
		q.snap.Block++
	}
	if q.snap.Block >= q.blocks {
		q.state = Completed
		return append(events, q.finished())
	}
	return append(events, q.entered())
}

// Pause freezes the phase timer. Pausing twice has no further effect.
func (q *Sequencer) Pause() {
	if q.state != Running {
		return
	}
	q.state = Paused
	q.snap.Paused = true
	q.snap.RemainingOnPause = q.script[q.snap.PhaseIndex].Duration - q.snap.Elapsed
}

// Resume continues the phase from where it was paused
func (q *Sequencer) Resume() {
	if q.state != Paused {
		return
	}
	q.state = Running
	q.snap.Paused = false
}

// Stop terminates the run, finalizing the phase in progress.
// It has no effect unless the run is active.
func (q *Sequencer) Stop() []Event {
	if q.state != Running && q.state != Paused {
		return nil
	}
	events := []Event{q.ending()}
	q.state = Stopped
	q.snap.Paused = false
	return append(events, q.finished())
}

// State returns the current state
func (q *Sequencer) State() State {
	return q.state
}

// Snapshot returns a copy of the timing state
func (q *Sequencer) Snapshot() Snapshot {
	return q.snap
}

// Subject returns the subject id of the current run
func (q *Sequencer) Subject() string {
	return q.subject
}

// Blocks returns the requested number of blocks
func (q *Sequencer) Blocks() int {
	return q.blocks
}

// Current returns the active phase, or false when no run is active
func (q *Sequencer) Current() (script.Phase, bool) {
	if q.state != Running && q.state != Paused {
		return script.Phase{}, false
	}
	return q.script[q.snap.PhaseIndex], true
}

// Remaining returns the time left in the current phase
func (q *Sequencer) Remaining() time.Duration {
	if q.state == Paused {
		return q.snap.RemainingOnPause
	}
	p, ok := q.Current()
	if !ok {
		return 0
	}
	return p.Duration - q.snap.Elapsed
}

func (q *Sequencer) entered() Event {
	return Event{
		Kind:       PhaseEntered,
		Phase:      q.script[q.snap.PhaseIndex],
		PhaseIndex: q.snap.PhaseIndex,
		Block:      q.snap.Block,
		State:      q.state,
	}
}

func (q *Sequencer) ending() Event {
	return Event{
		Kind:       PhaseEnding,
		Phase:      q.script[q.snap.PhaseIndex],
		PhaseIndex: q.snap.PhaseIndex,
		Block:      q.snap.Block,
		State:      q.state,
	}
}

func (q *Sequencer) finished() Event {
	return Event{
		Kind:  RunFinished,
		Block: q.snap.Block,
		State: q.state,
	}
}
