package collect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/bci/board"
	"github.com/sergev/bci/script"
	"github.com/sergev/bci/sequencer"
	"github.com/sergev/bci/synthetic"
	"github.com/sergev/bci/trial"
)

const ms = time.Millisecond

// lockstep replays a run deterministically: before every tick, the board
// delivers each chunk whose samples have completed by the tick's time.
// If stopAt is positive, the run is stopped once that much time elapsed.
func lockstep(t *testing.T, s script.Script, blocks int, rate float64, chunk int, tick, stopAt time.Duration) (*trial.Dataset, sequencer.State) {
	t.Helper()
	b := synthetic.New(board.Config{SamplingRate: rate, Channels: 2, Seed: 7})
	require.NoError(t, b.Connect())
	require.NoError(t, b.StartStream())
	defer b.Disconnect()
	defer b.StopStream()

	data := trial.NewDataset("subject", "training", rate, 2)
	acc := trial.NewAccumulator(rate, 2)
	rec := NewRecorder(acc, data, blocks, nil, nil)
	seq := sequencer.New()

	events, err := seq.Start(s, blocks, "subject")
	require.NoError(t, err)
	rec.Handle(events)

	var now time.Duration
	produced := 0
	for !seq.State().Terminal() {
		now += tick
		for board.ChunkDuration(produced+chunk, rate) <= now {
			c, err := b.ReadChunk(chunk)
			require.NoError(t, err)
			acc.AddChunk(c)
			produced += chunk
		}
		rec.Handle(seq.Tick(tick))
		if stopAt > 0 && now >= stopAt {
			rec.Handle(seq.Stop())
		}
		require.Less(t, now, time.Hour, "run did not terminate")
	}
	return data, seq.State()
}

func scenarioScript() script.Script {
	return script.Script{
		script.Cue("cue", 500*ms, ""),
		script.Recording("switch", 1000*ms, script.Switch, ""),
		script.Recording("rest", 1000*ms, script.Rest, ""),
	}
}

func TestScenarioCleanRun(t *testing.T) {
	data, state := lockstep(t, scenarioScript(), 2, 250, 25, 50*ms, 0)
	assert.Equal(t, sequencer.Completed, state)
	assert.Equal(t, 2, data.BlocksCompleted)

	require.Len(t, data.Trials, 4)
	assert.Equal(t, []int{1, 0, 1, 0}, data.Labels())
	for i, tr := range data.Trials {
		assert.Equal(t, 250, tr.Len(), "trial %d", i)
		assert.False(t, tr.Short, "trial %d", i)
		assert.Len(t, tr.Samples, 2)
	}
	assert.Equal(t, 0, data.Trials[0].Block)
	assert.Equal(t, 1, data.Trials[3].Block)
}

func TestScenarioStopMidRecording(t *testing.T) {
	// Switch phase starts at 500 ms; stop 300 ms into it
	data, state := lockstep(t, scenarioScript(), 2, 250, 25, 50*ms, 800*ms)
	assert.Equal(t, sequencer.Stopped, state)

	require.Len(t, data.Trials, 1)
	tr := data.Trials[0]
	assert.Equal(t, script.Switch, tr.Label)
	assert.True(t, tr.Short)
	assert.InDelta(t, 75, tr.Len(), 25)
	assert.Equal(t, 250, tr.Expected)
}

func TestTrialCountMatchesScript(t *testing.T) {
	testCases := []struct {
		name   string
		script script.Script
		blocks int
	}{
		{"Default", script.Default(), 2},
		{"SingleRecording", script.Script{script.Recording("only", 400*ms, script.Rest, "")}, 5},
		{"NoRecording", script.Script{script.Cue("a", 100*ms, ""), script.Cue("b", 200*ms, "")}, 3},
		{"Mixed", script.Script{
			script.Recording("s1", 200*ms, script.Switch, ""),
			script.Cue("gap", 100*ms, ""),
			script.Recording("r1", 300*ms, script.Rest, ""),
			script.Recording("s2", 200*ms, script.Switch, ""),
		}, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, state := lockstep(t, tc.script, tc.blocks, 250, 25, 50*ms, 0)
			assert.Equal(t, sequencer.Completed, state)
			require.Len(t, data.Trials, tc.blocks*tc.script.RecordingPhases())

			// Labels follow script order, block by block
			var want []int
			for b := 0; b < tc.blocks; b++ {
				for _, p := range tc.script {
					if p.Record {
						want = append(want, int(p.Label))
					}
				}
			}
			if len(want) > 0 {
				assert.Equal(t, want, data.Labels())
			}
			for _, tr := range data.Trials {
				assert.False(t, tr.Short)
				assert.Equal(t, tr.Expected, tr.Len())
			}
		})
	}
}

func TestTrimNeverExceedsExpected(t *testing.T) {
	for _, chunk := range []int{7, 13, 40, 64, 125, 300} {
		data, _ := lockstep(t, scenarioScript(), 3, 250, chunk, 50*ms, 0)
		require.Len(t, data.Trials, 6, "chunk %d", chunk)
		for _, tr := range data.Trials {
			require.LessOrEqual(t, tr.Len(), tr.Expected, "chunk %d", chunk)
			assert.Equal(t, tr.Len() < tr.Expected, tr.Short, "chunk %d", chunk)
		}
	}
}

func TestRecorderEvents(t *testing.T) {
	data := trial.NewDataset("s", "training", 250, 1)
	acc := trial.NewAccumulator(250, 1)
	rec := NewRecorder(acc, data, 1, nil, nil)
	seq := sequencer.New()

	s := script.Script{script.Recording("rest", 100*ms, script.Rest, "")}
	events, err := seq.Start(s, 1, "s")
	require.NoError(t, err)
	out := rec.Handle(events)
	require.Len(t, out, 1)
	assert.Equal(t, PhaseEntered, out[0].Kind)
	assert.Equal(t, 100*ms, out[0].Remaining)
	assert.Equal(t, 1, out[0].Blocks)

	out = rec.Handle(seq.Tick(100 * ms))
	require.Len(t, out, 3)
	assert.Equal(t, PhaseEnding, out[0].Kind)
	assert.Equal(t, TrialRecorded, out[1].Kind)
	assert.True(t, out[1].Short)
	assert.Equal(t, script.Rest, out[1].Label)
	assert.Equal(t, RunFinished, out[2].Kind)
	assert.Equal(t, 1, out[2].Trials)
	assert.Equal(t, sequencer.Completed, out[2].State)
	assert.Equal(t, "run_finished", out[2].Kind.String())
}
