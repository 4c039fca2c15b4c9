package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/bci/config"

	// Board drivers register themselves
	_ "github.com/sergev/bci/cyton"
	_ "github.com/sergev/bci/synthetic"
	_ "github.com/sergev/bci/usbbulk"
)

var (
	configPath string
	verbose    bool

	conf    *config.Config
	confSrc string // File the configuration came from
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bci",
	Short: "A CLI program which collects labeled EEG trials for motor imagery",
	Long: "The bci tool presents a timed sequence of SWITCH and REST cues while an EEG board\n" +
		"streams samples, and saves the samples recorded during each cue as a labeled trial.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var err error
		if configPath != "" {
			conf, err = config.Load(configPath)
			confSrc = configPath
		} else {
			conf, confSrc, err = config.Initialize()
		}
		if err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		logger.Debug("configuration loaded", slog.String("path", confSrc))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default ~/.bci)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug log on stderr")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
