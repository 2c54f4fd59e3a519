package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexshd/commitfit"
	"github.com/alexshd/commitfit/internal/config"
	"github.com/alexshd/commitfit/internal/metrics"
	"github.com/alexshd/commitfit/internal/panel"
	"github.com/alexshd/commitfit/internal/tracestore"
)

type fitOptions struct {
	dataFile    string
	chains      int
	draws       int
	tune        int
	renewal     int
	numStates   int
	seed        uint64
	metricsFile string
	labels      map[string]string
}

func newFitCmd(global *globalOptions) *cobra.Command {
	opts := &fitOptions{}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the model to a usage panel and store the trace",
		Long: `Fit the commitment model to a CSV usage panel.

The MAP estimate seeds every chain; chains then run in parallel. Tuning draws
are discarded and the recorded draws are written to the trace store under a
new run ID, which is printed on success.`,
		Example: `  commitfit fit -f usage.csv -o traces
  commitfit fit -f usage.csv --chains 4 --draws 2000 --renewal 12 --seed 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFit(cmd, global, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.dataFile, "file", "f", "", "usage panel CSV (required)")
	f.IntVar(&opts.chains, "chains", def.Sampler.Chains, "number of parallel chains")
	f.IntVar(&opts.draws, "draws", def.Sampler.Draws, "recorded draws per chain")
	f.IntVar(&opts.tune, "tune", def.Sampler.Tune, "discarded tuning draws per chain")
	f.IntVar(&opts.renewal, "renewal", def.Model.RenewalPeriod, "renewal period in months")
	f.IntVar(&opts.numStates, "num-states", def.Model.NumStates, "number of commitment states")
	f.Uint64Var(&opts.seed, "seed", def.Sampler.Seed, "random seed")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.StringToStringVar(&opts.labels, "label", nil, "attach key=value labels to the run")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// applyFlags overlays the flags the user set; unset flags leave the file and
// environment values alone.
func (o *fitOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("chains") {
		cfg.Sampler.Chains = o.chains
	}
	if f.Changed("draws") {
		cfg.Sampler.Draws = o.draws
	}
	if f.Changed("tune") {
		cfg.Sampler.Tune = o.tune
	}
	if f.Changed("renewal") {
		cfg.Model.RenewalPeriod = o.renewal
	}
	if f.Changed("num-states") {
		cfg.Model.NumStates = o.numStates
	}
	if f.Changed("seed") {
		cfg.Sampler.Seed = o.seed
	}
	if f.Changed("metrics-file") {
		cfg.MetricsFile = o.metricsFile
	}
}

func runFit(cmd *cobra.Command, global *globalOptions, opts *fitOptions) error {
	cfg, err := loadConfig(cmd, global)
	if err != nil {
		return err
	}
	opts.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	p, err := panel.ReadFile(opts.dataFile)
	if err != nil {
		return err
	}
	logger.Info("panel loaded",
		slog.String("file", opts.dataFile),
		slog.Int("customers", len(p.Customers)),
		slog.Int("periods", len(p.Periods)))

	model, err := commitfit.NewModel(p.Usage, cfg.ModelConfig())
	if err != nil {
		return fmt.Errorf("build model: %w", err)
	}

	rec := metrics.NewRecorder()
	sc := cfg.SamplerConfig()
	sc.Logger = logger
	sc.Observer = rec

	sampler, err := commitfit.NewSampler(model, sc)
	if err != nil {
		return err
	}

	start := time.Now()
	tr, runErr := sampler.Run(cmd.Context())
	rec.RunFinished(time.Since(start), runErr)
	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("write metrics", slog.String("file", cfg.MetricsFile), slog.Any("error", err))
		}
	}
	if runErr != nil {
		return runErr
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	labels := map[string]string{
		"renewal_period": strconv.Itoa(cfg.Model.RenewalPeriod),
		"seed":           strconv.FormatUint(cfg.Sampler.Seed, 10),
	}
	for k, v := range opts.labels {
		labels[k] = v
	}
	info, err := store.Save(cmd.Context(), tracestore.RunInfo{Source: opts.dataFile, Labels: labels}, tr)
	if err != nil {
		return err
	}

	stats, err := tr.Summarize(globalNames(tr)...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d chains × %d draws in %s\n\n",
		info.ID, info.Chains, info.Draws, time.Since(start).Round(time.Millisecond))
	return printStats(out, stats)
}
