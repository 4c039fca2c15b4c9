package synthetic

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergev/bci/board"
)

func TestReadChunkShape(t *testing.T) {
	b := New(board.Config{SamplingRate: 250, Channels: 4, Seed: 1})
	require.NoError(t, b.Connect())
	require.NoError(t, b.StartStream())
	defer b.Disconnect()

	for i := 1; i <= 3; i++ {
		c, err := b.ReadChunk(250)
		require.NoError(t, err)
		assert.Equal(t, 4, c.Channels())
		assert.Equal(t, 250, c.Len())
		assert.Equal(t, uint64(i), c.Seq)
	}
}

func TestSineWithoutNoise(t *testing.T) {
	b := New(board.Config{SamplingRate: 100, Channels: 2, Seed: 1})
	require.NoError(t, b.Connect())
	require.NoError(t, b.StartStream())

	first, err := b.ReadChunk(25)
	require.NoError(t, err)
	second, err := b.ReadChunk(25)
	require.NoError(t, err)

	// Phase continues across chunks: sample 25 is a quarter period of 1 Hz at 100 Hz
	assert.InDelta(t, 0.0, first.Samples[0][0], 1e-9)
	assert.InDelta(t, 1.0, second.Samples[0][0], 1e-9)
	assert.InDelta(t, math.Sin(2*math.Pi*0.1), first.Samples[1][10], 1e-9)
}

func TestStartRequiresConnect(t *testing.T) {
	b := New(board.Config{})
	err := b.StartStream()
	assert.ErrorIs(t, err, board.ErrConnection)
	assert.Equal(t, DefaultChannels, b.Channels())
	assert.Equal(t, 250.0, b.SamplingRate())
}

func TestStopWakesRealtimeRead(t *testing.T) {
	b := New(board.Config{SamplingRate: 250, Channels: 2, Realtime: true})
	require.NoError(t, b.Connect())
	require.NoError(t, b.StartStream())

	done := make(chan error, 1)
	go func() {
		// Ten seconds of samples: would block far longer than the test
		_, err := b.ReadChunk(2500)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.StopStream())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, board.ErrStreamStopped), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadChunk did not return after StopStream")
	}

	_, err := b.ReadChunk(10)
	assert.ErrorIs(t, err, board.ErrStreamStopped)
	require.NoError(t, b.StopStream())
	require.NoError(t, b.Disconnect())
	assert.False(t, b.Connected())
}

func TestFailAfter(t *testing.T) {
	b := New(board.Config{SamplingRate: 250, Channels: 1})
	b.FailAfter(2)
	require.NoError(t, b.Connect())
	require.NoError(t, b.StartStream())

	_, err := b.ReadChunk(10)
	require.NoError(t, err)
	_, err = b.ReadChunk(10)
	require.NoError(t, err)
	_, err = b.ReadChunk(10)
	assert.ErrorIs(t, err, board.ErrStream)
}

func TestRegistered(t *testing.T) {
	b, err := board.Open(board.Config{Type: Name, SamplingRate: 500, Channels: 3})
	require.NoError(t, err)
	assert.Equal(t, Name, b.Name())
	assert.Equal(t, 3, b.Channels())
}
