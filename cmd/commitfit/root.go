package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/alexshd/commitfit"
	"github.com/alexshd/commitfit/internal/config"
	"github.com/alexshd/commitfit/internal/logging"
	"github.com/alexshd/commitfit/internal/tracestore"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	storePath  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "commitfit",
		Short: "Bayesian customer commitment model",
		Long: `Fit a hierarchical hidden-state model of customer commitment to a panel of
monthly usage counts, and inspect the stored posterior traces.

Settings are layered: defaults, then the --config YAML file, then
COMMITFIT_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVarP(&opts.storePath, "output", "o", "", "trace store directory")

	root.AddCommand(
		newFitCmd(opts),
		newSimulateCmd(opts),
		newSummaryCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// loadConfig resolves defaults, file and environment, then applies the
// persistent flags the user set.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("output") {
		cfg.Store.Path = opts.storePath
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, level string) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.New(cmd.ErrOrStderr(), lvl), nil
}

func openStore(cfg config.Config, logger *slog.Logger) (*tracestore.Store, error) {
	return tracestore.Open(tracestore.Config{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger.With(slog.String("component", "badger")),
	})
}

// globalNames lists the population-level parameters of tr, leaving out the
// per-customer multipliers.
func globalNames(tr *commitfit.Trace) []string {
	var names []string
	for _, n := range tr.Names() {
		if !strings.HasPrefix(n, "A[") {
			names = append(names, n)
		}
	}
	return names
}

// newTable returns a plain table with numeric columns right-aligned.
func newTable(headers ...string) *table.Table {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 || row == table.HeaderRow {
				return cell
			}
			return cell.Align(lipgloss.Right)
		})
}

func printStats(w io.Writer, stats []commitfit.Stat) error {
	t := newTable("param", "mean", "sd", "5%", "50%", "95%", "ess", "r_hat")
	for _, s := range stats {
		t.Row(s.Name,
			fmt.Sprintf("%.4g", s.Mean),
			fmt.Sprintf("%.4g", s.SD),
			fmt.Sprintf("%.4g", s.Q05),
			fmt.Sprintf("%.4g", s.Median),
			fmt.Sprintf("%.4g", s.Q95),
			formatDiag(s.ESS, "%.0f"),
			formatDiag(s.RHat, "%.3f"))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func formatDiag(v float64, format string) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf(format, v)
}
