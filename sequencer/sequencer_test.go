package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/bci/script"
)

const ms = time.Millisecond

// testScript is the three-phase script used throughout the tests
func testScript() script.Script {
	return script.Script{
		script.Cue("cue", 500*ms, ""),
		script.Recording("switch", 1000*ms, script.Switch, ""),
		script.Recording("rest", 1000*ms, script.Rest, ""),
	}
}

// run ticks the sequencer with a fixed step until it reaches a terminal state
func run(t *testing.T, q *Sequencer, step time.Duration) []Event {
	t.Helper()
	var events []Event
	for i := 0; i < 100000 && !q.State().Terminal(); i++ {
		events = append(events, q.Tick(step)...)
	}
	require.True(t, q.State().Terminal(), "run did not terminate")
	return events
}

func kinds(events []Event) []EventKind {
	var out []EventKind
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestStartRejectsBadConfiguration(t *testing.T) {
	testCases := []struct {
		name   string
		script script.Script
		blocks int
	}{
		{"EmptyScript", script.Script{}, 1},
		{"ZeroBlocks", testScript(), 0},
		{"NegativeBlocks", testScript(), -3},
		{"ZeroDuration", script.Script{script.Cue("x", 0, "")}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := New()
			events, err := q.Start(tc.script, tc.blocks, "s1")
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Nil(t, events)
			assert.Equal(t, Idle, q.State())
			assert.Equal(t, Snapshot{}, q.Snapshot())
		})
	}
}

func TestStartEmitsFirstPhase(t *testing.T) {
	q := New()
	events, err := q.Start(testScript(), 2, "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PhaseEntered, events[0].Kind)
	assert.Equal(t, "cue", events[0].Phase.Name)
	assert.Equal(t, Running, q.State())
	assert.Equal(t, Snapshot{}, q.Snapshot())
	assert.Equal(t, "s1", q.Subject())
}

func TestTickAdvancesAndWraps(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 2, "s1")
	require.NoError(t, err)

	assert.Empty(t, q.Tick(250*ms))
	assert.Equal(t, 250*ms, q.Snapshot().Elapsed)

	events := q.Tick(250 * ms)
	require.Equal(t, []EventKind{PhaseEnding, PhaseEntered}, kinds(events))
	assert.Equal(t, "cue", events[0].Phase.Name)
	assert.Equal(t, "switch", events[1].Phase.Name)
	assert.Equal(t, 1, q.Snapshot().PhaseIndex)
	assert.Equal(t, time.Duration(0), q.Snapshot().Elapsed)

	// switch -> rest -> cue of the next block
	q.Tick(1000 * ms)
	events = q.Tick(1000 * ms)
	require.Equal(t, []EventKind{PhaseEnding, PhaseEntered}, kinds(events))
	assert.Equal(t, 0, events[0].Block)
	assert.Equal(t, 1, events[1].Block)
	assert.Equal(t, "cue", events[1].Phase.Name)
	assert.Equal(t, 1, q.Snapshot().Block)
}

func TestRunCompletes(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 2, "s1")
	require.NoError(t, err)

	events := run(t, q, 50*ms)
	assert.Equal(t, Completed, q.State())

	var endings []string
	for _, e := range events {
		if e.Kind == PhaseEnding {
			endings = append(endings, e.Phase.Name)
		}
	}
	assert.Equal(t, []string{"cue", "switch", "rest", "cue", "switch", "rest"}, endings)

	last := events[len(events)-1]
	assert.Equal(t, RunFinished, last.Kind)
	assert.Equal(t, Completed, last.State)
	assert.Equal(t, 2, last.Block)

	// No phase is entered after the final phase ends
	assert.Equal(t, PhaseEnding, events[len(events)-2].Kind)

	// Terminal: further commands are ignored
	assert.Empty(t, q.Tick(time.Second))
	assert.Empty(t, q.Stop())
	q.Pause()
	assert.Equal(t, Completed, q.State())
}

func TestConsecutiveRecordingPhasesEndSeparately(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 1, "s1")
	require.NoError(t, err)
	q.Tick(500 * ms) // cue -> switch
	q.Tick(999 * ms)

	events := q.Tick(1 * ms)
	require.Equal(t, []EventKind{PhaseEnding, PhaseEntered}, kinds(events))
	assert.Equal(t, "switch", events[0].Phase.Name)
	assert.True(t, events[0].Phase.Record)
	assert.Equal(t, "rest", events[1].Phase.Name)
	assert.True(t, events[1].Phase.Record)
}

func TestPauseResumePreservesBudget(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 1, "s1")
	require.NoError(t, err)
	q.Tick(500 * ms) // enter switch
	q.Tick(300 * ms)
	before := q.Remaining()
	require.Equal(t, 700*ms, before)

	q.Pause()
	assert.Equal(t, Paused, q.State())
	assert.True(t, q.Snapshot().Paused)
	assert.Equal(t, 700*ms, q.Snapshot().RemainingOnPause)

	// Idempotent, and ticks while paused are ignored
	q.Pause()
	assert.Empty(t, q.Tick(5*time.Second))
	assert.Equal(t, 700*ms, q.Snapshot().RemainingOnPause)

	q.Resume()
	assert.Equal(t, Running, q.State())
	assert.Equal(t, before, q.Remaining())

	assert.Empty(t, q.Tick(650*ms))
	events := q.Tick(50 * ms)
	require.Len(t, events, 2)
	assert.Equal(t, "switch", events[0].Phase.Name)
}

func TestStopFinalizesOnce(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 2, "s1")
	require.NoError(t, err)
	q.Tick(500 * ms)
	q.Tick(300 * ms)

	events := q.Stop()
	require.Equal(t, []EventKind{PhaseEnding, RunFinished}, kinds(events))
	assert.Equal(t, "switch", events[0].Phase.Name)
	assert.Equal(t, Stopped, events[1].State)
	assert.Equal(t, 0, events[1].Block)
	assert.Equal(t, Stopped, q.State())

	assert.Empty(t, q.Stop())
	assert.Empty(t, q.Tick(time.Second))
}

func TestStopWhilePaused(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 1, "s1")
	require.NoError(t, err)
	q.Pause()

	events := q.Stop()
	require.Equal(t, []EventKind{PhaseEnding, RunFinished}, kinds(events))
	assert.Equal(t, Stopped, q.State())
	assert.False(t, q.Snapshot().Paused)
}

func TestStopWhenIdle(t *testing.T) {
	q := New()
	assert.Empty(t, q.Stop())
	assert.Equal(t, Idle, q.State())
}

func TestRestartAfterTerminal(t *testing.T) {
	q := New()
	_, err := q.Start(testScript(), 1, "s1")
	require.NoError(t, err)
	q.Stop()

	events, err := q.Start(testScript(), 1, "s2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Running, q.State())
	assert.Equal(t, "s2", q.Subject())
}

func TestPhaseIndexInvariant(t *testing.T) {
	s := testScript()
	q := New()
	_, err := q.Start(s, 3, "s1")
	require.NoError(t, err)

	for !q.State().Terminal() {
		q.Tick(70 * ms)
		snap := q.Snapshot()
		require.GreaterOrEqual(t, snap.PhaseIndex, 0)
		require.Less(t, snap.PhaseIndex, len(s))
		require.LessOrEqual(t, snap.Elapsed, s[snap.PhaseIndex].Duration)
	}
}
