package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/statlearn/busflow/internal/appconf"
	"github.com/statlearn/busflow/internal/experiment"
	"github.com/statlearn/busflow/internal/logging"
)

const defaultConfigPath = "busflow.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(os.Stdout, os.Stderr).execute(ctx, os.Args[1:]); err != nil {
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by all subcommands of one invocation.
type cli struct {
	configPath string
	cfg        appconf.Config
	logger     *slog.Logger
	logCloser  io.Closer
	stdout     io.Writer
	stderr     io.Writer

	newLogger func(logging.Config, io.Writer) (*slog.Logger, io.Closer, error)
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{stdout: stdout, stderr: stderr, newLogger: logging.NewRunLogger}
}

// execute runs one invocation and closes the run log on every path, failed
// commands included.
func (c *cli) execute(ctx context.Context, args []string) error {
	defer c.closeLog()
	root := c.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (c *cli) closeLog() {
	if c.logCloser == nil {
		return
	}
	logging.SafeCloseWithLogging(c.logCloser, c.logger, "run_log")
	c.logCloser = nil
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "busflow",
		Short: "Graph trend filtering of bus congestion",
		Long: `busflow fits a smooth congestion signal over the stop graph of a bus network
and selects the regularization strength per filter on held-out observations.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"YAML configuration file (default "+defaultConfigPath+" when present)")

	root.AddCommand(
		c.validateCmd(),
		c.fitCmd(),
		c.reportCmd(),
		c.statusCmd(),
	)
	return root
}

// setup loads the configuration and builds the run logger.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	logger, closer, err := c.newLogger(logging.Config{
		Dir:   cfg.Logging.Dir,
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	}, c.stderr)
	if err != nil {
		return err
	}
	c.logger = logger.With(slog.String("command", cmd.Name()))
	c.logCloser = closer
	return nil
}

// loadConfig reads path, or the default file when path is empty. Without any file
// the built-in defaults apply.
func loadConfig(path string) (appconf.Config, error) {
	if path != "" {
		return appconf.Load(path)
	}
	cfg, err := appconf.Load(defaultConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = appconf.Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *cli) grid() experiment.Grid {
	return experiment.Grid{
		Lambdas:         c.cfg.Experiment.Lambdas,
		Weather:         c.cfg.Experiment.Weather,
		IntervalMinutes: c.cfg.Experiment.IntervalMinutes,
	}
}

func (c *cli) openManager() (*experiment.Manager, error) {
	m, err := experiment.Open(c.cfg.Experiment.FiltersFile, c.grid(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("open experiment state %s: %w", c.cfg.Experiment.FiltersFile, err)
	}
	return m, nil
}
