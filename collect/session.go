package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sergev/bci/board"
	"github.com/sergev/bci/script"
	"github.com/sergev/bci/sequencer"
	"github.com/sergev/bci/trial"
)

// Defaults for session options
const (
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultChunkDuration = 500 * time.Millisecond
	DefaultQueueSize     = 64
	DefaultEventBuffer   = 1024
)

// Saver is the persistence collaborator: it stores a finished dataset
// and returns where it was stored
type Saver interface {
	Save(ctx context.Context, data *trial.Dataset) (string, error)
}

// Options of a collection run
type Options struct {
	Script       script.Script
	Blocks       int
	Subject      string
	Kind         string        // Run kind, e.g. "training"
	ChunkSamples int           // Samples per board read; 0 for 500 ms worth
	TickInterval time.Duration // Phase timer resolution; 0 for 50 ms
	QueueSize    int           // Chunks buffered between board and accumulator
	EventBuffer  int           // Presentation events buffered for a slow consumer
	Clock        Clock         // nil for the system clock
	Saver        Saver         // nil to skip persistence
	Metrics      *Metrics      // nil to disable metrics
	Logger       *slog.Logger
}

// Result of a run
type Result struct {
	Dataset  *trial.Dataset
	State    sequencer.State
	Location string // Where the saver stored the dataset
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdStop
)

// Session runs one collection: the board streams chunks on its own
// goroutine while the phase timer advances the sequencer.
type Session struct {
	board  board.Board
	opts   Options
	log    *slog.Logger
	cmds   chan command
	events chan Event
	done   chan struct{}

	runOnce sync.Once
	dropped atomic.Int64 // Presentation events lost to a slow consumer
}

// NewSession creates a session for board b
func NewSession(b board.Board, opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ChunkSamples <= 0 {
		opts.ChunkSamples = int(b.SamplingRate() * DefaultChunkDuration.Seconds())
		if opts.ChunkSamples < 1 {
			opts.ChunkSamples = 1
		}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Kind == "" {
		opts.Kind = "training"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		board:  b,
		opts:   opts,
		log:    log.With(slog.String("board", b.Name()), slog.String("subject", opts.Subject)),
		cmds:   make(chan command, 16),
		events: make(chan Event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel of presentation events.
// It is closed when Run returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Pause freezes the phase timer
func (s *Session) Pause() { s.send(cmdPause) }

// Resume continues a paused run
func (s *Session) Resume() { s.send(cmdResume) }

// Stop ends the run early. The trial in progress is kept, marked short.
func (s *Session) Stop() { s.send(cmdStop) }

func (s *Session) send(c command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

// Run performs the collection and blocks until the board is released.
// The configuration is checked before the board is touched. A stream
// failure stops the run and is returned together with the trials
// collected so far; a run without trials returns trial.ErrNoData.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return nil, errors.New("session already ran")
	}
	defer close(s.events)
	defer close(s.done)

	if err := sequencer.Validate(s.opts.Script, s.opts.Blocks); err != nil {
		return nil, err
	}

	if err := s.board.Connect(); err != nil {
		return nil, wrapBoardError(board.ErrConnection, "failed to connect board", err)
	}
	defer func() {
		if err := s.board.Disconnect(); err != nil {
			s.log.Warn("failed to disconnect board", slog.Any("error", err))
		}
	}()

	if err := s.board.StartStream(); err != nil {
		return nil, wrapBoardError(board.ErrStream, "failed to start stream", err)
	}

	data := trial.NewDataset(s.opts.Subject, s.opts.Kind, s.board.SamplingRate(), s.board.Channels())
	acc := trial.NewAccumulator(s.board.SamplingRate(), s.board.Channels())
	rec := NewRecorder(acc, data, s.opts.Blocks, s.opts.Metrics, s.log)
	seq := sequencer.New()

	// Acquisition: producer reads the board, consumer feeds the accumulator
	var stopping atomic.Bool
	queue := make(chan board.Chunk, s.opts.QueueSize)
	streamErr := make(chan error, 1)
	var g errgroup.Group
	g.Go(func() error {
		defer close(queue)
		for {
			c, err := s.board.ReadChunk(s.opts.ChunkSamples)
			if err != nil {
				if stopping.Load() && errors.Is(err, board.ErrStreamStopped) {
					return nil
				}
				streamErr <- err
				return err
			}
			queue <- c
		}
	})
	g.Go(func() error {
		for c := range queue {
			recorded := acc.AddChunk(c)
			s.opts.Metrics.chunk(c.Len(), recorded, len(queue))
		}
		return nil
	})

	var stopOnce sync.Once
	teardown := func() {
		stopOnce.Do(func() {
			stopping.Store(true)
			if err := s.board.StopStream(); err != nil {
				s.log.Warn("failed to stop stream", slog.Any("error", err))
			}
			g.Wait()
		})
	}
	defer teardown()

	s.log.Info("run started",
		slog.Int("blocks", s.opts.Blocks),
		slog.Int("phases", len(s.opts.Script)),
		slog.Int("chunk_samples", s.opts.ChunkSamples))

	events, err := seq.Start(s.opts.Script, s.opts.Blocks, s.opts.Subject)
	if err != nil {
		return nil, err
	}
	s.publish(rec.Handle(events))

	ticker := s.opts.Clock.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	last := s.opts.Clock.Now()

	var runErr error
	for !seq.State().Terminal() {
		select {
		case now := <-ticker.C():
			delta := now.Sub(last)
			last = now
			s.publish(rec.Handle(seq.Tick(delta)))

		case c := <-s.cmds:
			s.command(seq, rec, c)

		case err := <-streamErr:
			s.opts.Metrics.streamError()
			s.log.Error("acquisition failed", slog.Any("error", err))
			runErr = wrapBoardError(board.ErrStream, "acquisition failed", err)
			s.publish(rec.Handle(seq.Stop()))

		case <-ctx.Done():
			runErr = ctx.Err()
			s.publish(rec.Handle(seq.Stop()))
		}
	}

	// Release the board before handing the data on
	teardown()
	if n := s.dropped.Load(); n > 0 {
		s.log.Warn("presentation events dropped", slog.Int64("count", n))
	}

	result := &Result{Dataset: data, State: seq.State()}
	if err := data.Check(); err != nil {
		return result, errors.Join(runErr, err)
	}
	if s.opts.Saver != nil {
		location, err := s.opts.Saver.Save(context.WithoutCancel(ctx), data)
		if err != nil {
			return result, errors.Join(runErr, err)
		}
		result.Location = location
		s.log.Info("dataset saved", slog.String("location", location), slog.String("summary", data.Summary()))
	}
	return result, runErr
}

func (s *Session) command(seq *sequencer.Sequencer, rec *Recorder, c command) {
	switch c {
	case cmdPause:
		if seq.State() != sequencer.Running {
			return
		}
		seq.Pause()
		rec.Pause()
		snap := seq.Snapshot()
		s.log.Info("run paused", slog.Duration("remaining", snap.RemainingOnPause))
		s.publish([]Event{{Kind: Paused, PhaseIndex: snap.PhaseIndex, Block: snap.Block, Remaining: snap.RemainingOnPause}})
	case cmdResume:
		if seq.State() != sequencer.Paused {
			return
		}
		seq.Resume()
		rec.Resume()
		snap := seq.Snapshot()
		s.log.Info("run resumed")
		s.publish([]Event{{Kind: Resumed, PhaseIndex: snap.PhaseIndex, Block: snap.Block, Remaining: seq.Remaining()}})
	case cmdStop:
		s.log.Info("run stopped by request")
		s.publish(rec.Handle(seq.Stop()))
	}
}

// publish hands events to the presentation layer without blocking
// the phase timer. Progress events are dropped when the consumer lags.
// Trial and finish events evict the oldest buffered event instead, so
// the last event a consumer sees is always RunFinished.
func (s *Session) publish(events []Event) {
	for _, e := range events {
		select {
		case s.events <- e:
			continue
		default:
		}
		if e.Kind != TrialRecorded && e.Kind != RunFinished {
			s.dropped.Add(1)
			continue
		}
		for sent := false; !sent; {
			select {
			case s.events <- e:
				sent = true
			case <-s.events:
				s.dropped.Add(1)
			}
		}
	}
}

// wrapBoardError makes sure err matches the sentinel kind
func wrapBoardError(kind error, msg string, err error) error {
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}
