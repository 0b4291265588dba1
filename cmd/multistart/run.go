package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/multistart/internal/config"
	"github.com/copyleftdev/multistart/internal/experiment"
	"github.com/copyleftdev/multistart/internal/logging"
	"github.com/copyleftdev/multistart/internal/optimization"
	"github.com/copyleftdev/multistart/internal/optimization/catalog"
	"github.com/copyleftdev/multistart/internal/optimization/hillclimb"
	"github.com/copyleftdev/multistart/internal/optimization/sqp"
	"github.com/copyleftdev/multistart/internal/visual"
)

type runOptions struct {
	problem     string
	count       int
	updateCount int
	strategy    string
	minimize    bool
	seed        uint64
	sampler     string
	workers     int
	html        string
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment ensemble and print the results",
		Long: `Runs the selected problem from --count random starting points. With
--update-count the ensemble is then resized and solved again, keeping the
starting points it already has, the way the Update button of the desktop
tool does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.applyDefaults(cmd, a.cfg)
			return o.run(cmd, a)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.problem, "problem", "", "Problem name (see 'multistart problems')")
	f.IntVar(&o.count, "count", 0, "Number of experiments (at least 10)")
	f.IntVar(&o.updateCount, "update-count", 0, "Resize to this many experiments and solve again")
	f.StringVar(&o.strategy, "strategy", "", "Solver strategy: local-search or sqp")
	f.BoolVar(&o.minimize, "minimize", true, "Minimize the solver objective")
	f.Uint64Var(&o.seed, "seed", 0, "Random seed, 0 for time based")
	f.StringVar(&o.sampler, "sampler", "", "Start point sampler: uniform or lhs")
	f.IntVar(&o.workers, "workers", 0, "Concurrent solves")
	f.StringVar(&o.html, "html", "", "Write an HTML plot to this file")
	return cmd
}

// applyDefaults fills unset flags from the environment configuration.
func (o *runOptions) applyDefaults(cmd *cobra.Command, cfg *config.Config) {
	exp := cfg.Experiment
	if o.problem == "" {
		o.problem = exp.Problem
	}
	if o.count == 0 {
		o.count = exp.Count
	}
	if o.strategy == "" {
		o.strategy = exp.Strategy
	}
	if !cmd.Flags().Changed("minimize") {
		o.minimize = exp.Minimize
	}
	if o.seed == 0 {
		o.seed = exp.Seed
	}
	if o.sampler == "" {
		o.sampler = exp.Sampler
	}
	if o.workers == 0 {
		o.workers = exp.Workers
	}
}

func (o *runOptions) run(cmd *cobra.Command, a *app) error {
	if err := config.ValidateCount(o.count); err != nil {
		return err
	}
	if cmd.Flags().Changed("update-count") {
		if err := config.ValidateCount(o.updateCount); err != nil {
			return err
		}
	}
	entry, err := catalog.Lookup(o.problem)
	if err != nil {
		return err
	}
	strategy, err := optimization.ParseStrategy(o.strategy)
	if err != nil {
		return err
	}
	sampler, err := experiment.NewSampler(o.sampler, o.seed)
	if err != nil {
		return err
	}

	zapLogger := logging.NewZapLogger(a.logger)
	defer zapLogger.Sync()

	ensemble := experiment.NewEnsemble(experiment.WithLogger(a.logger))
	cfg := experiment.RunConfig{
		Count:      o.count,
		Problem:    entry.Build,
		Sampler:    sampler,
		Strategy:   strategy,
		Minimize:   o.minimize,
		Regenerate: true,
		Workers:    o.workers,
		Backends: optimization.Backends{
			LocalSearch: hillclimb.New(hillclimb.WithSeed(o.seed), hillclimb.WithLogger(zapLogger)),
			SQP:         sqp.New(sqp.WithLogger(zapLogger)),
		},
	}

	ctx := cmd.Context()
	summary, err := ensemble.RunAll(ctx, cfg)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("update-count") {
		cfg.Count = o.updateCount
		cfg.Regenerate = false
		if summary, err = ensemble.RunAll(ctx, cfg); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	cases := ensemble.Cases()
	if err := printRows(out, visual.Rows(cases)); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s: %d solved, %d failed, %d errors in %s\n",
		entry.Name, summary.Solved, summary.Failed, summary.Errored, summary.Duration.Round(time.Millisecond))

	if o.html == "" {
		return nil
	}
	problem, err := entry.Build()
	if err != nil {
		return err
	}
	g := a.cfg.Grid
	payload, err := visual.BuildPayload(problem, cases, visual.Options{
		Resolution:   g.Resolution,
		Levels:       g.Levels,
		LabelStep:    g.LabelStep,
		CurveSamples: g.CurveSamples,
	})
	if err != nil {
		return err
	}
	f, err := os.Create(o.html)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	if err := visual.RenderHTML(f, payload); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printRows(w io.Writer, rows []visual.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tX0\tX\tF")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Index, r.X0, r.X, r.Value)
	}
	return tw.Flush()
}
