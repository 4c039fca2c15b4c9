package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sergev/bci/board"
	"github.com/sergev/bci/collect"
	"github.com/sergev/bci/script"
	"github.com/sergev/bci/store"
	"github.com/sergev/bci/trial"
)

var collectOpts struct {
	session     string
	subject     string
	kind        string
	blocks      int
	metricsAddr string
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a cue script and record labeled trials",
	Long: "Run the cue script of a session while the board streams, and save the recorded trials.\n" +
		"Type p and Enter to pause, r to resume, q to stop early. Ctrl-C stops as well.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollect(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	f := collectCmd.Flags()
	f.StringVarP(&collectOpts.session, "session", "s", "", "session name from the configuration")
	f.StringVar(&collectOpts.subject, "subject", "", "subject id")
	f.StringVar(&collectOpts.kind, "kind", "", "run kind, e.g. training or test")
	f.IntVarP(&collectOpts.blocks, "blocks", "b", 0, "number of blocks (1..100)")
	f.StringVar(&collectOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	collectCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(ctx context.Context, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, name, err := conf.Session(collectOpts.session)
	if err != nil {
		return err
	}
	sc, err := sess.Script()
	if err != nil {
		return err
	}
	blocks := sess.BlockCount()
	if collectOpts.blocks != 0 {
		blocks = collectOpts.blocks
	}
	if blocks < 1 || blocks > script.MaxBlocks {
		return fmt.Errorf("invalid blocks: %d (must be 1 to %d)", blocks, script.MaxBlocks)
	}
	kind := sess.RunKind()
	if collectOpts.kind != "" {
		kind = collectOpts.kind
	}

	saver, closeStore, err := openSaver(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := board.Open(sess.BoardConfig())
	if err != nil {
		return fmt.Errorf("failed to open board: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := collect.NewMetrics(reg)
	if collectOpts.metricsAddr != "" {
		stop := serveMetrics(collectOpts.metricsAddr, reg)
		defer stop()
	}

	session := collect.NewSession(b, collect.Options{
		Script:       sc,
		Blocks:       blocks,
		Subject:      collectOpts.subject,
		Kind:         kind,
		ChunkSamples: sess.ChunkSamples(b.SamplingRate()),
		TickInterval: sess.TickInterval(),
		QueueSize:    sess.QueueSize(),
		Saver:        saver,
		Metrics:      metrics,
		Logger:       logger,
	})

	fmt.Fprintf(out, "Session %s: %s board, %g Hz, %d channels\n", name, b.Name(), b.SamplingRate(), b.Channels())
	fmt.Fprintf(out, "Subject %s, %d blocks of %v\n", collectOpts.subject, blocks, sc.BlockDuration())

	shown := make(chan struct{})
	go func() {
		defer close(shown)
		p := newPresenter(out)
		for e := range session.Events() {
			p.show(e)
		}
	}()
	go readKeys(in, session)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
			session.Stop()
		case <-shown:
		}
	}()

	result, err := session.Run(ctx)
	<-shown

	switch {
	case errors.Is(err, trial.ErrNoData):
		fmt.Fprintf(out, "No trials recorded, nothing saved.\n")
		return err
	case errors.Is(err, store.ErrStorage) && result != nil:
		location, ferr := saveFallback(result.Dataset, saver.Format)
		if ferr != nil {
			return errors.Join(err, ferr)
		}
		fmt.Fprintf(out, "Could not save to %s, saved to %s instead.\n", saver.Root, location)
		result.Location = location
		err = withoutStorageError(err)
	}
	if result != nil && result.Location != "" {
		d := result.Dataset
		fmt.Fprintf(out, "%s to %s\n", savedMessage(len(d.Trials), d.Count(script.Rest), d.Count(script.Switch)), result.Location)
		if n := d.ShortCount(); n > 0 {
			fmt.Fprintf(out, "%d trials are short.\n", n)
		}
	}
	return err
}

// openSaver prepares local storage, the run index and the optional upload
func openSaver(ctx context.Context) (*store.Saver, func(), error) {
	root, err := conf.Storage.RootDir()
	if err != nil {
		return nil, nil, err
	}
	format, err := store.ParseFormat(conf.Storage.Format)
	if err != nil {
		return nil, nil, err
	}
	saver := &store.Saver{Root: root, Format: format, Log: logger}

	closeIndex := func() {}
	indexPath, err := conf.Storage.IndexPath()
	if err != nil {
		return nil, nil, err
	}
	if indexPath != "" {
		index, err := store.OpenIndex(ctx, indexPath)
		if err != nil {
			// The dataset file is what matters
			logger.Warn("run index unavailable", slog.String("path", indexPath), slog.Any("error", err))
		} else {
			saver.Index = index
			closeIndex = func() { index.Close() }
		}
	}

	if rc, ok := conf.Storage.RemoteConfig(); ok {
		remote, err := store.NewRemote(rc, logger)
		if err != nil {
			closeIndex()
			return nil, nil, err
		}
		if err := remote.EnsureBucket(ctx); err != nil {
			logger.Warn("object store unavailable, uploads will be retried by `bci upload`", slog.Any("error", err))
		}
		saver.Remote = remote
	}
	return saver, closeIndex, nil
}

// saveFallback writes the dataset into the current directory
func saveFallback(data *trial.Dataset, format store.Format) (string, error) {
	if format == store.FormatUnknown {
		format = store.FormatNPZ
	}
	filename, err := filepath.Abs(store.FileName(time.Now(), format))
	if err != nil {
		return "", err
	}
	if err := store.Write(filename, data); err != nil {
		return "", fmt.Errorf("failed to save dataset in current directory: %w", err)
	}
	return filename, nil
}

// withoutStorageError drops the storage failure from a joined run error
// once the data has been saved elsewhere
func withoutStorageError(err error) error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	var rest []error
	for _, e := range joined.Unwrap() {
		if !errors.Is(e, store.ErrStorage) {
			rest = append(rest, e)
		}
	}
	return errors.Join(rest...)
}

// readKeys turns input lines into session commands
func readKeys(in io.Reader, s *collect.Session) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "p", "pause":
			s.Pause()
		case "r", "resume":
			s.Resume()
		case "q", "quit", "stop":
			s.Stop()
			return
		}
	}
}

// serveMetrics exposes reg over HTTP until the returned function is called
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
