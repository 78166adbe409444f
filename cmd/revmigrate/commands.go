package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/migrator"
	"github.com/example/revmigrate/internal/resolver"
)

func newFlagSet(env *cmdEnv, name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	env.commonFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: revmigrate %s %s\n\n%s\n\nOptions:\n", name, args, summaries[name])
		fs.PrintDefaults()
	}
	return fs
}

func runStatus(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "status", "[options]")
	asJSON := fs.Bool("json", false, "Print the status as JSON")
	if err := env.parse(fs, args); err != nil {
		return err
	}

	ctx, svc, err := env.connect(ctx)
	if err != nil {
		return err
	}
	st, err := svc.Status(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		err = printJSON(env.stdout, newStatusView(env.cfg.ProjectID, st))
	} else {
		printStatus(env.stdout, env.cfg.ProjectID, st)
	}
	if err != nil {
		return err
	}
	return driftError(st)
}

// driftError reports drift found by status so the exit code reflects it.
func driftError(st *migrator.Status) error {
	if len(st.Drift) == 0 {
		return nil
	}
	errs := make([]error, len(st.Drift))
	for i, d := range st.Drift {
		errs[i] = d
	}
	return errors.Join(errs...)
}

// filterFlags holds the selection options shared by up and browse.
type filterFlags struct {
	tags   stringList
	author string
	since  string
	expr   string
}

func (f *filterFlags) register(fs *flag.FlagSet) {
	fs.Var(&f.tags, "tag", "Only revisions carrying this tag (repeatable, comma separated)")
	fs.StringVar(&f.author, "author", "", "Only revisions by this author")
	fs.StringVar(&f.since, "since", "", "Only revisions created after this RFC 3339 time")
	fs.StringVar(&f.expr, "filter", "", "Only revisions matching this expression, e.g. '\"users\" in Tags'")
}

func (f *filterFlags) build() (resolver.Filter, error) {
	var since time.Time
	if f.since != "" {
		t, err := time.Parse(time.RFC3339, f.since)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -since %q: %v", errUsage, f.since, err)
		}
		since = t
	}
	compiled, err := resolver.CompileFilter(f.expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return resolver.And(
		resolver.TagFilter(f.tags...),
		resolver.AuthorFilter(f.author),
		resolver.CreatedAfter(since),
		compiled,
	), nil
}

func runUp(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "up", "[-to REV | -steps N | -all-heads] [options]")
	to := fs.String("to", "", "Apply up to and including this revision")
	steps := fs.Int("steps", 0, "Apply at most this many revisions")
	allHeads := fs.Bool("all-heads", false, "Apply every pending revision across all heads")
	dryRun := fs.Bool("dry-run", false, "Print the plan without executing it")
	var filters filterFlags
	filters.register(fs)
	if err := env.parse(fs, args); err != nil {
		return err
	}

	target, err := upTarget(*to, *steps, *allHeads)
	if err != nil {
		return err
	}
	filter, err := filters.build()
	if err != nil {
		return err
	}
	return execute(ctx, env, migration.Up, target, filter, *dryRun)
}

func upTarget(to string, steps int, allHeads bool) (resolver.Target, error) {
	if countSet(to != "", steps != 0, allHeads) > 1 {
		return resolver.Target{}, fmt.Errorf("%w: -to, -steps and -all-heads are mutually exclusive", errUsage)
	}
	switch {
	case steps < 0:
		return resolver.Target{}, fmt.Errorf("%w: -steps must be positive", errUsage)
	case steps > 0:
		return resolver.Steps(steps), nil
	case allHeads:
		return resolver.AllHeads(), nil
	case to == "" || strings.EqualFold(to, "head"):
		return resolver.Head(), nil
	case strings.EqualFold(to, "heads"):
		return resolver.AllHeads(), nil
	}
	return resolver.Revision(to), nil
}

func runDown(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "down", "[-to REV | -steps N | -all] [options]")
	to := fs.String("to", "", "Revert every revision that depends on this revision, keeping it applied")
	steps := fs.Int("steps", 0, "Revert this many revisions (default 1)")
	all := fs.Bool("all", false, "Revert every applied revision")
	dryRun := fs.Bool("dry-run", false, "Print the plan without executing it")
	if err := env.parse(fs, args); err != nil {
		return err
	}

	target, err := downTarget(*to, *steps, *all)
	if err != nil {
		return err
	}
	return execute(ctx, env, migration.Down, target, nil, *dryRun)
}

func downTarget(to string, steps int, all bool) (resolver.Target, error) {
	if countSet(to != "", steps != 0, all) > 1 {
		return resolver.Target{}, fmt.Errorf("%w: -to, -steps and -all are mutually exclusive", errUsage)
	}
	switch {
	case steps < 0:
		return resolver.Target{}, fmt.Errorf("%w: -steps must be positive", errUsage)
	case steps > 0:
		return resolver.Steps(steps), nil
	case all || strings.EqualFold(to, "base"):
		return resolver.Base(), nil
	case to != "":
		return resolver.Revision(to), nil
	}
	return resolver.Steps(1), nil
}

func countSet(flags ...bool) int {
	n := 0
	for _, set := range flags {
		if set {
			n++
		}
	}
	return n
}

func runReset(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "reset", "[options]")
	dryRun := fs.Bool("dry-run", false, "Print the plan without executing it")
	if err := env.parse(fs, args); err != nil {
		return err
	}
	return execute(ctx, env, migration.Down, resolver.Base(), nil, *dryRun)
}

func execute(ctx context.Context, env *cmdEnv, dir migration.Direction, target resolver.Target, filter resolver.Filter, dryRun bool) error {
	ctx, svc, err := env.connect(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		p, err := svc.Plan(ctx, dir, target, filter)
		if err != nil {
			return err
		}
		printPlan(env.stdout, p)
		return nil
	}

	apply := svc.Up
	if dir == migration.Down {
		apply = svc.Down
	}
	result, err := apply(ctx, target, filter)
	if result != nil {
		printRun(env.stdout, result)
	}
	return err
}

func runGraph(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "graph", "[options]")
	asJSON := fs.Bool("json", false, "Print the summary as JSON")
	if err := env.parse(fs, args); err != nil {
		return err
	}

	ctx, svc, err := env.connect(ctx)
	if err != nil {
		return err
	}
	summary, err := svc.Graph(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(env.stdout, summary)
	}
	printSummary(env.stdout, summary)
	return nil
}

func runBrowse(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "browse", "[options]")
	var filters filterFlags
	filters.register(fs)
	if err := env.parse(fs, args); err != nil {
		return err
	}
	filter, err := filters.build()
	if err != nil {
		return err
	}

	ctx, svc, err := env.connect(ctx)
	if err != nil {
		return err
	}
	records, err := svc.Browse(ctx, filter)
	if err != nil {
		return err
	}
	printRecords(env.stdout, records)
	return nil
}

func runCheck(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "check", "[options]")
	if err := env.parse(fs, args); err != nil {
		return err
	}

	ctx, svc, err := env.connect(ctx)
	if err != nil {
		return err
	}
	if err := svc.Check(ctx); err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, "ok")
	return nil
}

func runUnlock(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "unlock", "[options]")
	if err := env.parse(fs, args); err != nil {
		return err
	}

	ctx, svc, err := env.connect(ctx)
	if err != nil {
		return err
	}
	broken, err := svc.Unlock(ctx)
	if err != nil {
		return err
	}
	if broken {
		fmt.Fprintf(env.stdout, "lock for project %s removed\n", env.cfg.ProjectID)
	} else {
		fmt.Fprintf(env.stdout, "project %s was not locked\n", env.cfg.ProjectID)
	}
	return nil
}

// stringList collects a repeatable, comma separated flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}
