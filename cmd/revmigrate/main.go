package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/revmigrate/internal/config"
	"github.com/example/revmigrate/internal/database"
	"github.com/example/revmigrate/internal/executor"
	"github.com/example/revmigrate/internal/ledger/sqlledger"
	"github.com/example/revmigrate/internal/lock"
	"github.com/example/revmigrate/internal/logging"
	"github.com/example/revmigrate/internal/metrics"
	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/migrator"
)

var version = "dev"

// errUsage marks command line mistakes; flag parsing errors are already
// printed by the flag package.
var errUsage = errors.New("usage error")

var commands = map[string]func(ctx context.Context, env *cmdEnv, args []string) error{
	"status": runStatus,
	"up":     runUp,
	"down":   runDown,
	"reset":  runReset,
	"graph":  runGraph,
	"browse": runBrowse,
	"check":  runCheck,
	"unlock": runUnlock,
}

var summaries = map[string]string{
	"status": "Show applied and pending revisions, heads and drift",
	"up":     "Apply pending revisions",
	"down":   "Revert applied revisions",
	"reset":  "Revert every applied revision",
	"graph":  "Summarise the revision graph",
	"browse": "List revisions matching tag, author or expression filters",
	"check":  "Validate migrations, ledger consistency and drift",
	"unlock": "Remove a project lock left behind by a crashed run",
}

var commandOrder = []string{"status", "up", "down", "reset", "graph", "browse", "check", "unlock"}

func usage(w io.Writer) {
	fmt.Fprintf(w, "revmigrate - revision graph schema migrations (version %s)\n\n", version)
	fmt.Fprintf(w, "Usage:\n  revmigrate <command> [options]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-8s %s\n", name, summaries[name])
	}
	fmt.Fprintf(w, "\nConfiguration is read from %s and REVMIGRATE_* environment variables.\n", config.DefaultFile)
	fmt.Fprintf(w, "Run 'revmigrate <command> -h' for command-specific help.\n")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return migration.ExitUsage
	}

	name := args[0]
	switch name {
	case "-h", "--help", "help":
		usage(stdout)
		return migration.ExitOK
	case "-v", "--version", "version":
		fmt.Fprintln(stdout, version)
		return migration.ExitOK
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n\n", name)
		usage(stderr)
		return migration.ExitUsage
	}

	env := &cmdEnv{stdout: stdout, stderr: stderr}
	defer env.close()

	err := cmd(ctx, env, args[1:])
	if env.metricsFile != "" {
		if werr := env.recorder.WriteTextfile(env.metricsFile); werr != nil {
			fmt.Fprintf(stderr, "warning: failed to write metrics: %v\n", werr)
		}
	}

	switch {
	case err == nil:
		return migration.ExitOK
	case errors.Is(err, flag.ErrHelp):
		return migration.ExitOK
	case errors.Is(err, errUsage):
		return migration.ExitUsage
	}

	if env.logger != nil {
		env.logger.Error("command failed",
			slog.String("command", name),
			slog.String("error_kind", migration.ErrorKind(err)))
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return migration.ExitCode(err)
}

// cmdEnv carries what a command needs once its flags are parsed. Resources
// are opened by connect and released by close.
type cmdEnv struct {
	stdout, stderr io.Writer

	configPath  string
	metricsFile string

	cfg      config.Config
	logger   *slog.Logger
	recorder *metrics.Recorder
	closers  []func() error
}

// commonFlags registers the options every command accepts.
func (e *cmdEnv) commonFlags(fs *flag.FlagSet) {
	fs.SetOutput(e.stderr)
	fs.StringVar(&e.configPath, "config", config.DefaultFile, "Path to the project file")
	fs.StringVar(&e.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the command")
}

func (e *cmdEnv) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(e.stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return errUsage
	}
	return nil
}

// connect loads the configuration and builds the migrator service over the
// configured database and lock backend. The returned context carries the
// command logger.
func (e *cmdEnv) connect(ctx context.Context) (context.Context, *migrator.Service, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	e.cfg = cfg
	e.logger = logging.New(cfg.LogLevel, cfg.LogFormat, e.stderr)
	e.recorder = metrics.NewRecorder()
	ctx = logging.ContextWithLogger(ctx, e.logger)

	drift, err := executor.ParseDriftPolicy(cfg.Drift)
	if err != nil {
		return ctx, nil, err
	}

	db, dialect, err := database.Open(ctx, cfg.DSN, database.DefaultOptions())
	if err != nil {
		return ctx, nil, err
	}
	e.closers = append(e.closers, db.Close)

	var locker lock.Locker
	if cfg.LockBackend == config.LockRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return ctx, nil, fmt.Errorf("invalid redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		e.closers = append(e.closers, client.Close)
		locker = lock.NewRedis(client, lock.DefaultRedisTTL, e.logger)
	}

	store, err := sqlledger.New(db, sqlledger.Config{
		Dialect: dialect,
		Table:   cfg.MigrationTable,
		Locker:  locker,
		Logger:  e.logger,
	})
	if err != nil {
		return ctx, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return ctx, nil, err
	}

	breaker, _ := store.Locker().(lock.Breaker)
	return ctx, migrator.New(store, migrator.Options{
		MigrationDir: cfg.MigrationDir,
		Executor: executor.Options{
			ProjectID:   cfg.ProjectID,
			StepTimeout: cfg.StepTimeout,
			DriftPolicy: drift,
			Metrics:     e.recorder,
		},
		Breaker: breaker,
	}), nil
}

func (e *cmdEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && e.logger != nil {
			e.logger.Warn("failed to close resource", slog.Any("error", err))
		}
	}
}
