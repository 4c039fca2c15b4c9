package synthetic

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sergev/bci/board"

	"go.bug.st/serial/enumerator"
)

const (
	Name            = "synthetic"
	DefaultChannels = 8
	SignalHz        = 1.0 // Frequency of the simulated rhythm
)

// Board generates a 1 Hz sine wave plus gaussian noise on every channel.
// It stands in for real hardware.
type Board struct {
	rate     float64
	channels int
	noise    float64
	realtime bool

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	streaming bool
	stop      chan struct{} // Closed by StopStream
	sample    uint64        // Samples generated so far
	seq       uint64        // Chunks delivered so far
	failAfter int           // Fail the stream after this many chunks, 0 = never
}

func init() {
	board.Register(Name, func(cfg board.Config, _ *enumerator.PortDetails) (board.Board, error) {
		return New(cfg), nil
	})
}

// New creates a synthetic board. Zero fields of cfg get defaults.
func New(cfg board.Config) *Board {
	channels := cfg.Channels
	if channels <= 0 {
		channels = DefaultChannels
	}
	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 250
	}
	noise := cfg.Noise
	if noise < 0 {
		noise = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Board{
		rate:     rate,
		channels: channels,
		noise:    noise,
		realtime: cfg.Realtime,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// FailAfter makes ReadChunk fail with ErrStream once n chunks were delivered
func (b *Board) FailAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAfter = n
}

func (b *Board) Name() string { return Name }
func (b *Board) SamplingRate() float64 { return b.rate }
func (b *Board) Channels() int { return b.channels }

// Connect opens the (simulated) connection
func (b *Board) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	slog.Debug("synthetic board connected", slog.Int("channels", b.channels))
	return nil
}

// StartStream begins streaming
func (b *Board) StartStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return fmt.Errorf("%w: synthetic board is not connected", board.ErrConnection)
	}
	b.streaming = true
	b.stop = make(chan struct{})
	slog.Debug("synthetic board streaming", slog.Float64("rate", b.rate))
	return nil
}

// ReadChunk generates n samples per channel.
// In realtime mode it sleeps for the chunk duration, but returns
// early with ErrStreamStopped when StopStream is called.
func (b *Board) ReadChunk(n int) (board.Chunk, error) {
	if n <= 0 {
		return board.Chunk{}, fmt.Errorf("%w: invalid chunk size %d", board.ErrStream, n)
	}

	b.mu.Lock()
	if !b.streaming {
		b.mu.Unlock()
		return board.Chunk{}, board.ErrStreamStopped
	}
	if b.failAfter > 0 && b.seq >= uint64(b.failAfter) {
		b.mu.Unlock()
		return board.Chunk{}, fmt.Errorf("%w: simulated failure after %d chunks", board.ErrStream, b.seq)
	}
	stop := b.stop
	realtime := b.realtime
	b.mu.Unlock()

	if realtime {
		timer := time.NewTimer(board.ChunkDuration(n, b.rate))
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return board.Chunk{}, board.ErrStreamStopped
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.streaming {
		return board.Chunk{}, board.ErrStreamStopped
	}
	samples := make([][]float64, b.channels)
	for ch := range samples {
		samples[ch] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		t := float64(b.sample+uint64(i)) / b.rate
		v := math.Sin(2 * math.Pi * SignalHz * t)
		for ch := range samples {
			samples[ch][i] = v + b.noise*b.rng.NormFloat64()
		}
	}
	b.sample += uint64(n)
	b.seq++
	return board.Chunk{Samples: samples, Seq: b.seq}, nil
}

// StopStream halts streaming and wakes a blocked ReadChunk
func (b *Board) StopStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streaming {
		b.streaming = false
		close(b.stop)
		slog.Debug("synthetic board stream stopped")
	}
	return nil
}

// Disconnect releases the (simulated) connection
func (b *Board) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	slog.Debug("synthetic board disconnected")
	return nil
}

// Connected reports whether Connect was called without a later Disconnect
func (b *Board) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// PrintStatus prints board parameters to stdout
func (b *Board) PrintStatus() {
	fmt.Printf("Board: synthetic (%.0f Hz sine with noise %.2f)\n", SignalHz, b.noise)
	fmt.Printf("Sampling Rate: %.0f Hz\n", b.rate)
	fmt.Printf("Channels: %d\n", b.channels)
}
