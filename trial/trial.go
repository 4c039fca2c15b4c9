package trial

import (
	"math"
	"sync"
	"time"

	"github.com/sergev/bci/board"
	"github.com/sergev/bci/script"
)

// Trial is the labeled sample buffer of one recording phase instance
type Trial struct {
	Label    script.Label
	Samples  [][]float64 // Channels x count
	Short    bool        // Fewer than Expected samples were captured
	Expected int         // round(sampling rate x phase duration)
	Phase    string
	Block    int
}

// Len returns the number of samples per channel
func (t Trial) Len() int {
	if len(t.Samples) == 0 {
		return 0
	}
	return len(t.Samples[0])
}

// ExpectedSamples returns the number of samples a phase of duration d yields
func ExpectedSamples(rate float64, d time.Duration) int {
	return int(math.Round(rate * d.Seconds()))
}

// Accumulator slices the board's chunks into trials at phase boundaries.
// AddChunk runs on the acquisition side, PhaseEntered and PhaseEnding on
// the timing side; one mutex serializes all access to the pending buffer.
type Accumulator struct {
	rate     float64
	channels int

	mu      sync.Mutex
	active  script.Phase
	block   int
	running bool          // A phase is active
	paused  bool          // The run is paused; chunks are not recorded
	pending [][][]float64 // Chunks buffered for the active recording phase
	dropped int           // Chunks received outside recording phases
}

// NewAccumulator creates an accumulator for a board with given
// sampling rate and channel count
func NewAccumulator(rate float64, channels int) *Accumulator {
	return &Accumulator{rate: rate, channels: channels}
}

// PhaseEntered makes p the phase that receives chunks
func (a *Accumulator) PhaseEntered(p script.Phase, block int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = p
	a.block = block
	a.running = true
	a.paused = false
	a.pending = nil
}

// Pause discards chunks until Resume, so that samples taken while the
// phase timer is frozen never end up in a trial
func (a *Accumulator) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
}

// Resume records chunks again
func (a *Accumulator) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = false
}

// AddChunk buffers a copy of the chunk's samples when the active phase
// records and the run is not paused, and discards the chunk otherwise.
// Returns true if buffered.
func (a *Accumulator) AddChunk(c board.Chunk) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.paused || !a.active.Record {
		a.dropped++
		return false
	}
	samples := make([][]float64, len(c.Samples))
	for ch, row := range c.Samples {
		samples[ch] = append([]float64(nil), row...)
	}
	a.pending = append(a.pending, samples)
	return true
}

// PhaseEnding finalizes the trial of the ending phase.
// The trial length is computed from the ending phase's own duration:
// overrun from the last chunk is dropped, underrun is reported as a
// short trial without padding. Returns false for phases which do not record.
func (a *Accumulator) PhaseEnding(p script.Phase) (Trial, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	a.paused = false
	if !p.Record {
		return Trial{}, false
	}

	expected := ExpectedSamples(a.rate, p.Duration)
	channels := a.channels
	if len(a.pending) > 0 {
		channels = len(a.pending[0])
	}

	total := 0
	for _, c := range a.pending {
		if len(c) > 0 {
			total += len(c[0])
		}
	}
	n := total
	if n > expected {
		n = expected
	}

	samples := make([][]float64, channels)
	for ch := range samples {
		row := make([]float64, 0, n)
		for _, c := range a.pending {
			if len(row) >= n {
				break
			}
			if ch >= len(c) {
				continue
			}
			take := c[ch]
			if room := n - len(row); len(take) > room {
				take = take[:room]
			}
			row = append(row, take...)
		}
		samples[ch] = row
	}
	a.pending = nil

	return Trial{
		Label:    p.Label,
		Samples:  samples,
		Short:    n < expected,
		Expected: expected,
		Phase:    p.Name,
		Block:    a.block,
	}, true
}

// Pending returns the number of samples buffered for the active phase
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, c := range a.pending {
		if len(c) > 0 {
			total += len(c[0])
		}
	}
	return total
}

// Dropped returns the number of chunks discarded outside recording phases
func (a *Accumulator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}
