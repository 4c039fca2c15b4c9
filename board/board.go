package board

import (
	"errors"
	"time"
)

// Errors reported by boards. Implementations wrap them with details.
var (
	ErrConnection    = errors.New("board connection failed")
	ErrStream        = errors.New("board stream failed")
	ErrStreamStopped = errors.New("board stream stopped")
)

// Chunk is one delivery of samples from a board
type Chunk struct {
	Samples [][]float64 // Channels x count
	Seq     uint64      // Arrival order, strictly increasing per stream
}

// Len returns the number of samples per channel
func (c Chunk) Len() int {
	if len(c.Samples) == 0 {
		return 0
	}
	return len(c.Samples[0])
}

// Channels returns the number of channels in the chunk
func (c Chunk) Channels() int {
	return len(c.Samples)
}

// Board defines the capabilities of an EEG acquisition board,
// real or simulated.
//
// StopStream may be called from a goroutine other than the one
// blocked in ReadChunk; the read must then return promptly,
// within about one chunk duration, with ErrStreamStopped.
type Board interface {
	// Name returns the board type, e.g. "synthetic" or "cyton"
	Name() string

	// SamplingRate returns samples per second per channel
	SamplingRate() float64

	// Channels returns the number of EEG channels
	Channels() int

	// Connect opens the connection to the board
	Connect() error

	// StartStream begins data streaming
	StartStream() error

	// ReadChunk blocks until n samples per channel are available
	ReadChunk(n int) (Chunk, error)

	// StopStream halts data streaming
	StopStream() error

	// Disconnect releases the connection
	Disconnect() error
}

// StatusPrinter is implemented by boards which can report device details
type StatusPrinter interface {
	// PrintStatus prints board status information to stdout
	PrintStatus()
}

// ChunkDuration returns the nominal duration of n samples at given rate
func ChunkDuration(n int, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / rate * float64(time.Second))
}
