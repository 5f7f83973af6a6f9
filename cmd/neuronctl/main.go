package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"neuron/internal/storage"
	neuronapi "neuron/pkg/neuron"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultSQLitePath = "neuron.db"
	defaultFileDir    = "neuron-data"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	store      string
	dbPath     string
	dsn        string
	runsDir    string
	exportsDir string
	logLevel   string
	jsonOut    bool

	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "neuronctl",
		Short: "Train, evaluate and inspect small DQN agents",
		Long: `neuronctl drives the neuron DQN engine: it trains fixed-topology
networks against the built-in scapes, manages saved checkpoints and run
artifacts, and serves a live inspection API while an agent learns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.store, "store", storage.DefaultStoreKind(), "store backend: memory|file|sqlite|postgres")
	flags.StringVar(&opts.dbPath, "db-path", "", "sqlite database path or file store directory")
	flags.StringVar(&opts.dsn, "dsn", os.Getenv("NEURON_PG_DSN"), "postgres connection string")
	flags.StringVar(&opts.runsDir, "runs-dir", defaultRunsDir, "run artifacts directory")
	flags.StringVar(&opts.exportsDir, "exports-dir", defaultExportsDir, "export destination directory")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.BoolVar(&opts.jsonOut, "json", false, "emit JSON output")

	root.AddCommand(
		newTrainCmd(opts),
		newEvaluateCmd(opts),
		newTiersCmd(opts),
		newPresetsCmd(opts),
		newCheckpointCmd(opts),
		newRunsCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func (o *globalOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(o.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", o.logLevel)
	}
	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: level})), nil
}

func (o *globalOptions) storeLocation() string {
	switch o.store {
	case "postgres":
		return o.dsn
	case "file":
		if o.dbPath == "" {
			return defaultFileDir
		}
	case "sqlite":
		if o.dbPath == "" {
			return defaultSQLitePath
		}
	}
	return o.dbPath
}

// client opens and initialises the configured store. Callers must Close
// the returned client.
func (o *globalOptions) client(ctx context.Context) (*neuronapi.Client, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, err
	}
	if o.store == "postgres" && o.dsn == "" {
		return nil, errors.New("postgres store requires --dsn or NEURON_PG_DSN")
	}
	client, err := neuronapi.New(neuronapi.Options{
		StoreKind:  o.store,
		DBPath:     o.storeLocation(),
		RunsDir:    o.runsDir,
		ExportsDir: o.exportsDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (o *globalOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *globalOptions) printf(format string, args ...any) {
	fmt.Fprintf(o.stdout, format, args...)
}
