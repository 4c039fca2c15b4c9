package trial

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/bci/board"
	"github.com/sergev/bci/script"
)

// ramp returns a chunk of given channels where sample i of every channel
// holds start+i, so concatenation order can be checked
func ramp(channels, n, start int) board.Chunk {
	samples := make([][]float64, channels)
	for ch := range samples {
		samples[ch] = make([]float64, n)
		for i := range samples[ch] {
			samples[ch][i] = float64(start + i)
		}
	}
	return board.Chunk{Samples: samples}
}

func TestExpectedSamples(t *testing.T) {
	testCases := []struct {
		rate     float64
		duration time.Duration
		want     int
	}{
		{250, time.Second, 250},
		{250, 6 * time.Second, 1500},
		{250, 300 * time.Millisecond, 75},
		{125, 10 * time.Millisecond, 1}, // 1.25 rounds down
		{250, 10 * time.Millisecond, 3}, // 2.5 rounds away from zero
	}
	for _, tc := range testCases {
		if got := ExpectedSamples(tc.rate, tc.duration); got != tc.want {
			t.Errorf("ExpectedSamples(%v, %v) = %d, expected %d", tc.rate, tc.duration, got, tc.want)
		}
	}
}

func TestTrimOverrun(t *testing.T) {
	a := NewAccumulator(250, 2)
	p := script.Recording("switch", time.Second, script.Switch, "")
	a.PhaseEntered(p, 0)

	// 3 x 100 samples: the last chunk overshoots the 250-sample phase
	for i := 0; i < 3; i++ {
		require.True(t, a.AddChunk(ramp(2, 100, i*100)))
	}
	require.Equal(t, 300, a.Pending())

	tr, ok := a.PhaseEnding(p)
	require.True(t, ok)
	assert.False(t, tr.Short)
	assert.Equal(t, 250, tr.Len())
	assert.Equal(t, 250, tr.Expected)
	assert.Equal(t, script.Switch, tr.Label)
	assert.Equal(t, "switch", tr.Phase)
	require.Len(t, tr.Samples, 2)
	for ch := range tr.Samples {
		require.Len(t, tr.Samples[ch], 250)
		for i, v := range tr.Samples[ch] {
			if v != float64(i) {
				t.Fatalf("channel %d sample %d = %v, expected %d", ch, i, v, i)
			}
		}
	}
	assert.Equal(t, 0, a.Pending())
}

func TestShortTrialIsNotPadded(t *testing.T) {
	a := NewAccumulator(250, 2)
	p := script.Recording("rest", time.Second, script.Rest, "")
	a.PhaseEntered(p, 1)
	a.AddChunk(ramp(2, 75, 0))

	tr, ok := a.PhaseEnding(p)
	require.True(t, ok)
	assert.True(t, tr.Short)
	assert.Equal(t, 75, tr.Len())
	assert.Equal(t, 250, tr.Expected)
	assert.Equal(t, 1, tr.Block)
}

func TestEmptyRecordingPhaseYieldsShortTrial(t *testing.T) {
	a := NewAccumulator(250, 4)
	p := script.Recording("rest", time.Second, script.Rest, "")
	a.PhaseEntered(p, 0)

	tr, ok := a.PhaseEnding(p)
	require.True(t, ok)
	assert.True(t, tr.Short)
	assert.Equal(t, 0, tr.Len())
	assert.Len(t, tr.Samples, 4)
}

func TestNonRecordingPhase(t *testing.T) {
	a := NewAccumulator(250, 1)
	p := script.Cue("focus", time.Second, "")
	a.PhaseEntered(p, 0)
	assert.False(t, a.AddChunk(ramp(1, 50, 0)))
	assert.False(t, a.AddChunk(ramp(1, 50, 50)))

	_, ok := a.PhaseEnding(p)
	assert.False(t, ok)
	assert.Equal(t, 2, a.Dropped())
	assert.Equal(t, 0, a.Pending())
}

func TestPausedChunksAreDropped(t *testing.T) {
	a := NewAccumulator(250, 1)
	p := script.Recording("switch", time.Second, script.Switch, "")
	a.PhaseEntered(p, 0)

	require.True(t, a.AddChunk(ramp(1, 100, 0)))
	a.Pause()
	assert.False(t, a.AddChunk(ramp(1, 1000, 9000)))
	a.Resume()
	require.True(t, a.AddChunk(ramp(1, 150, 100)))

	tr, ok := a.PhaseEnding(p)
	require.True(t, ok)
	assert.False(t, tr.Short)
	require.Equal(t, 250, tr.Len())
	for i, v := range tr.Samples[0] {
		if v != float64(i) {
			t.Fatalf("sample %d = %v, expected %d", i, v, i)
		}
	}
	assert.Equal(t, 1, a.Dropped())
}

func TestPhaseEnteredClearsPause(t *testing.T) {
	a := NewAccumulator(250, 1)
	p := script.Recording("rest", time.Second, script.Rest, "")
	a.PhaseEntered(p, 0)
	a.Pause()
	a.PhaseEnding(p)

	a.PhaseEntered(p, 1)
	assert.True(t, a.AddChunk(ramp(1, 10, 0)))
}

func TestChunksBetweenPhasesAreDropped(t *testing.T) {
	a := NewAccumulator(250, 1)
	p := script.Recording("switch", time.Second, script.Switch, "")
	a.PhaseEntered(p, 0)
	a.PhaseEnding(p)

	a.AddChunk(ramp(1, 10, 0))
	assert.Equal(t, 1, a.Dropped())
}

func TestBufferNeverSpansTwoPhases(t *testing.T) {
	a := NewAccumulator(250, 1)
	sw := script.Recording("switch", time.Second, script.Switch, "")
	rest := script.Recording("rest", time.Second, script.Rest, "")

	a.PhaseEntered(sw, 0)
	a.AddChunk(ramp(1, 100, 0))
	first, ok := a.PhaseEnding(sw)
	require.True(t, ok)

	a.PhaseEntered(rest, 0)
	a.AddChunk(ramp(1, 40, 1000))
	second, ok := a.PhaseEnding(rest)
	require.True(t, ok)

	assert.Equal(t, 100, first.Len())
	assert.Equal(t, 40, second.Len())
	assert.Equal(t, 1000.0, second.Samples[0][0])
}

func TestAddChunkCopiesSamples(t *testing.T) {
	a := NewAccumulator(250, 1)
	p := script.Recording("switch", time.Second, script.Switch, "")
	a.PhaseEntered(p, 0)

	c := ramp(1, 10, 0)
	a.AddChunk(c)
	c.Samples[0][0] = 99

	tr, _ := a.PhaseEnding(p)
	assert.Equal(t, 0.0, tr.Samples[0][0])
}

func TestConcurrentAddAndEnd(t *testing.T) {
	a := NewAccumulator(1000, 2)
	p := script.Recording("switch", 100*time.Millisecond, script.Switch, "")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				a.AddChunk(ramp(2, 7, 0))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		a.PhaseEntered(p, i)
		tr, ok := a.PhaseEnding(p)
		require.True(t, ok)
		require.LessOrEqual(t, tr.Len(), tr.Expected)
		require.Len(t, tr.Samples, 2)
		assert.Equal(t, len(tr.Samples[0]), len(tr.Samples[1]))
	}
	close(stop)
	wg.Wait()
}

func TestDataset(t *testing.T) {
	d := NewDataset("s1", "training", 250, 8)
	assert.ErrorIs(t, d.Check(), ErrNoData)
	assert.NotEqual(t, [16]byte{}, [16]byte(d.RunID))

	d.Add(Trial{Label: script.Switch})
	d.Add(Trial{Label: script.Rest, Short: true})
	d.Add(Trial{Label: script.Switch})

	require.NoError(t, d.Check())
	assert.Equal(t, []int{1, 0, 1}, d.Labels())
	assert.Equal(t, 2, d.Count(script.Switch))
	assert.Equal(t, 1, d.ShortCount())
	assert.Equal(t, "3 trials (1 REST, 2 SWITCH), 1 short", d.Summary())

	var nilSet *Dataset
	assert.ErrorIs(t, nilSet.Check(), ErrNoData)
}
