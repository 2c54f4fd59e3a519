package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSummaryCmd(global *globalOptions) *cobra.Command {
	var (
		all    bool
		params []string
	)

	cmd := &cobra.Command{
		Use:   "summary RUN_ID",
		Short: "Print posterior summaries of a stored run",
		Long: `Print mean, standard deviation, 5/50/95% quantiles and R-hat of the
population-level parameters of a stored run. Use --all to include every
customer multiplier, or --param to pick parameters by name (e.g. th0, Q[1],
PI[0,2], A[17]).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg.LogLevel)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			info, tr, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			names := params
			switch {
			case len(names) > 0:
			case all:
				names = tr.Names()
			default:
				names = globalNames(tr)
			}
			stats, err := tr.Summarize(names...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s (%s): %d states, %d chains × %d draws\n",
				info.ID, info.Source, info.NumStates, info.Chains, info.Draws)
			fmt.Fprintf(out, "MAP log-posterior %.4f after %d rounds\n\n", tr.MAP.LogPosterior, tr.MAP.Rounds)
			return printStats(out, stats)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include customer multipliers")
	cmd.Flags().StringSliceVar(&params, "param", nil, "parameters to summarize")
	return cmd
}

func newRunsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg.LogLevel)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}

			t := newTable("id", "created", "source", "states", "chains", "draws", "labels")
			for _, r := range runs {
				keys := make([]string, 0, len(r.Labels))
				for k := range r.Labels {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				pairs := make([]string, len(keys))
				for i, k := range keys {
					pairs[i] = k + "=" + r.Labels[k]
				}
				labels := strings.Join(pairs, ",")
				t.Row(r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Source,
					strconv.Itoa(r.NumStates), strconv.Itoa(r.Chains), strconv.Itoa(r.Draws), labels)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}
}
