package collect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sergev/bci/script"
	"github.com/sergev/bci/sequencer"
	"github.com/sergev/bci/trial"
)

// EventKind tells the presentation layer what happened
type EventKind int

const (
	PhaseEntered EventKind = iota
	PhaseEnding
	TrialRecorded
	Paused
	Resumed
	RunFinished
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case PhaseEntered:
		return "phase_entered"
	case PhaseEnding:
		return "phase_ending"
	case TrialRecorded:
		return "trial_recorded"
	case Paused:
		return "paused"
	case Resumed:
		return "resumed"
	case RunFinished:
		return "run_finished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to the presentation layer
type Event struct {
	Kind       EventKind
	Phase      script.Phase
	PhaseIndex int
	Block      int // Zero-based block; blocks completed for RunFinished
	Blocks     int // Requested number of blocks
	Remaining  time.Duration

	// TrialRecorded
	Label   script.Label
	Samples int
	Short   bool

	// RunFinished
	Trials int
	State  sequencer.State
}

// Recorder routes sequencer events into the accumulator and the dataset.
// It runs in the timing context of a session.
type Recorder struct {
	acc     *trial.Accumulator
	data    *trial.Dataset
	blocks  int
	metrics *Metrics
	log     *slog.Logger
}

// NewRecorder creates a recorder which fills data from acc
func NewRecorder(acc *trial.Accumulator, data *trial.Dataset, blocks int, metrics *Metrics, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{acc: acc, data: data, blocks: blocks, metrics: metrics, log: log}
}

// Pause stops recording until Resume
func (r *Recorder) Pause() {
	r.acc.Pause()
}

// Resume records chunks again
func (r *Recorder) Resume() {
	r.acc.Resume()
}

// Handle applies sequencer events in order and returns the events
// for the presentation layer
func (r *Recorder) Handle(events []sequencer.Event) []Event {
	var out []Event
	for _, e := range events {
		switch e.Kind {
		case sequencer.PhaseEntered:
			r.acc.PhaseEntered(e.Phase, e.Block)
			r.metrics.phase(e.PhaseIndex, e.Block)
			r.log.Debug("phase entered",
				slog.String("phase", e.Phase.Name),
				slog.Int("block", e.Block),
				slog.Duration("duration", e.Phase.Duration))
			out = append(out, Event{
				Kind:       PhaseEntered,
				Phase:      e.Phase,
				PhaseIndex: e.PhaseIndex,
				Block:      e.Block,
				Blocks:     r.blocks,
				Remaining:  e.Phase.Duration,
			})

		case sequencer.PhaseEnding:
			out = append(out, Event{
				Kind:       PhaseEnding,
				Phase:      e.Phase,
				PhaseIndex: e.PhaseIndex,
				Block:      e.Block,
				Blocks:     r.blocks,
			})
			t, ok := r.acc.PhaseEnding(e.Phase)
			if !ok {
				continue
			}
			r.data.Add(t)
			r.metrics.trial(int(t.Label), t.Short)
			if t.Short {
				r.log.Warn("short trial",
					slog.String("phase", t.Phase),
					slog.Int("samples", t.Len()),
					slog.Int("expected", t.Expected))
			} else {
				r.log.Debug("trial recorded",
					slog.String("phase", t.Phase),
					slog.Int("samples", t.Len()))
			}
			out = append(out, Event{
				Kind:    TrialRecorded,
				Phase:   e.Phase,
				Block:   e.Block,
				Blocks:  r.blocks,
				Label:   t.Label,
				Samples: t.Len(),
				Short:   t.Short,
				Trials:  len(r.data.Trials),
			})

		case sequencer.RunFinished:
			r.data.BlocksCompleted = e.Block
			r.metrics.phase(-1, e.Block)
			r.log.Info("run finished",
				slog.String("state", e.State.String()),
				slog.Int("blocks", e.Block),
				slog.Int("trials", len(r.data.Trials)))
			out = append(out, Event{
				Kind:   RunFinished,
				Block:  e.Block,
				Blocks: r.blocks,
				Trials: len(r.data.Trials),
				State:  e.State,
			})
		}
	}
	return out
}
