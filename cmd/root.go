package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/sortpool/internal/config"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/tracing"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts, so the OSC 11 reply cannot race the
	// input loop.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

// localConfigPath is checked before the user config.
const localConfigPath = ".sortpool/config.yaml"

var (
	version    = "dev"
	cfgFile    string
	debugFlag  bool
	cfg        config.Config
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "sortpool",
	Short: "Run sorting algorithms on a pool of parallel workers",
	Long: `sortpool dispatches sorting tasks to a fixed pool of workers, streams
their progress, and reports results and per-task metrics.

Run a batch once with "sortpool run", or serve the pool over HTTP and
websocket with "sortpool serve".`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .sortpool/config.yaml, then ~/.config/sortpool/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs to $SORTPOOL_LOG (default: debug.log)")
	rootCmd.PersistentFlags().IntP("workers", "w", 0,
		"number of workers (default: pool.size, 0 = one per CPU)")

	_ = viper.BindPFlag("pool.size", rootCmd.PersistentFlags().Lookup("workers"))
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := initLogging(cmd); err != nil {
		return err
	}
	return initConfig()
}

func initLogging(cmd *cobra.Command) error {
	if os.Getenv("SORTPOOL_DEBUG") == "" && !debugFlag {
		return nil
	}
	logPath := os.Getenv("SORTPOOL_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}

	var (
		cleanup func()
		err     error
	)
	// The live view owns stdout, so bubbletea's logger shares the file.
	if wantsTUI(cmd) {
		cleanup, err = log.InitWithTeaLog(logPath, "sortpool")
	} else {
		cleanup, err = log.Init(logPath)
	}
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup

	if lvl := os.Getenv("SORTPOOL_LOG_LEVEL"); lvl != "" {
		log.SetMinLevel(log.ParseLevel(lvl))
	}
	log.Info(log.CatCLI, "sortpool starting", "command", cmd.Name(), "version", version, "logPath", logPath)
	return nil
}

func initConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)
	v.SetEnvPrefix("SORTPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config lookup order:
	// 1. --config
	// 2. .sortpool/config.yaml (current directory)
	// 3. ~/.config/sortpool/config.yaml (user config)
	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(localConfigPath):
		v.SetConfigFile(localConfigPath)
	default:
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sortpool"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "No config file found, using defaults")
	} else {
		log.Info(log.CatConfig, "Loaded config", "path", v.ConfigFileUsed())
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// startTracing builds the tracer provider from config. The returned stop
// function flushes pending spans.
func startTracing() (*tracing.Provider, func(), error) {
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, nil, fmt.Errorf("starting tracing: %w", err)
	}
	stop := func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatTrace, "Tracer shutdown failed", err)
		}
	}
	return provider, stop, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
