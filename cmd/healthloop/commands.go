package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"healthloop/adapters/excel"
	"healthloop/domain/core"
	"healthloop/domain/experiment"
	"healthloop/internal/migration"
)

func newRunDayCmd(g *globalFlags) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "run-day [day]",
		Short: "Run the daily loop for every active user, or one user with --user",
		Long: `Run the safety gate, detectors and attribution for a day (default today).
A day already run for a user is skipped.

Example: healthloop run-day 2025-01-14 --user u1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := core.Today()
			if len(args) == 1 {
				d, err := core.ParseDay(args[0])
				if err != nil {
					return err
				}
				day = d
			}
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if user != "" {
				id, err := core.ParseUserID(user)
				if err != nil {
					return err
				}
				report, err := c.Service.RunDay(cmd.Context(), id, day)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			}
			summary, err := c.Scheduler.RunDay(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Run a single user")
	return cmd
}

func newBaselineCmd(g *globalFlags) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "baseline [user] [metric]",
		Short: "Compute a metric's rolling baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			user, key := core.UserID(args[0]), core.MetricKey(args[1])
			if asOf == "" {
				b, err := c.Service.ComputeBaseline(cmd.Context(), user, key)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), b)
			}
			day, err := core.ParseDay(asOf)
			if err != nil {
				return err
			}
			b, err := c.Service.ComputeBaselineAsOf(cmd.Context(), user, key, day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Day the baseline is computed for (YYYY-MM-DD)")
	return cmd
}

func newDetectCmd(g *globalFlags) *cobra.Command {
	var dayStr string

	cmd := &cobra.Command{
		Use:   "detect [user] [metric]",
		Short: "Run the gated detectors for one metric and day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := core.ParseDay(dayStr)
			if err != nil {
				return err
			}
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Service.RunDetectors(cmd.Context(), core.UserID(args[0]), core.MetricKey(args[1]), day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&dayStr, "day", core.Today().String(), "Day to analyse (YYYY-MM-DD)")
	return cmd
}

func newAttributeCmd(g *globalFlags) *cobra.Command {
	var exposures []string
	var window string

	cmd := &cobra.Command{
		Use:   "attribute [user] [outcome-metric]",
		Short: "Rank logged exposures as candidate drivers of an outcome",
		Long: `Run lagged attribution over a window and store the ranked candidates.

Example: healthloop attribute u1 hrv_rmssd --exposures magnesium,caffeine --window 2025-01-01..2025-01-20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(window)
			if err != nil {
				return err
			}
			keys := make([]core.ExposureKey, 0, len(exposures))
			for _, e := range exposures {
				keys = append(keys, core.ExposureKey(e))
			}
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cands, err := c.Service.RunAttribution(cmd.Context(), core.UserID(args[0]), core.MetricKey(args[1]), keys, w)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cands)
		},
	}
	cmd.Flags().StringSliceVar(&exposures, "exposures", nil, "Exposure keys to test")
	cmd.Flags().StringVar(&window, "window", "", "Analysis window START..END")
	_ = cmd.MarkFlagRequired("exposures")
	_ = cmd.MarkFlagRequired("window")
	return cmd
}

func newExperimentCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Design and advance N-of-1 experiments",
	}

	var baseline, treatment string
	create := &cobra.Command{
		Use:   "create [user] [intervention] [outcome-metric]",
		Short: "Design a new experiment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bw, err := parseWindow(baseline)
			if err != nil {
				return err
			}
			tw, err := parseWindow(treatment)
			if err != nil {
				return err
			}
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			exp, err := c.Service.CreateExperiment(cmd.Context(), core.UserID(args[0]), core.ExposureKey(args[1]), core.MetricKey(args[2]), bw, tw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exp)
		},
	}
	create.Flags().StringVar(&baseline, "baseline", "", "Baseline window START..END")
	create.Flags().StringVar(&treatment, "treatment", "", "Intervention window START..END")
	_ = create.MarkFlagRequired("baseline")
	_ = create.MarkFlagRequired("treatment")

	advance := &cobra.Command{
		Use:   "advance [experiment-id] [status]",
		Short: "Move an experiment to the next lifecycle status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			exp, err := c.Service.AdvanceExperiment(cmd.Context(), core.ExperimentID(args[0]), experiment.Status(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), exp)
		},
	}

	cmd.AddCommand(create, advance)
	return cmd
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [experiment-id]",
		Short: "Evaluate an active experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := c.Service.Evaluate(cmd.Context(), core.ExperimentID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newDecideCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decide [evaluation-id]",
		Short: "Decide the next loop step from an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			decision, err := c.Service.DecideNextStep(cmd.Context(), core.EvaluationID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decision)
		},
	}
}

func newGradeCmd(g *globalFlags) *cobra.Command {
	var confidence, coverage float64
	var n int

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade evidence from confidence, sample size and coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintln(cmd.OutOrStdout(), c.Service.Grade(confidence, n, coverage))
			return nil
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence in [0,1]")
	cmd.Flags().IntVar(&n, "n", 0, "Sample size")
	cmd.Flags().Float64Var(&coverage, "coverage", 0, "Coverage in [0,1]")
	return cmd
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if c.DB == nil {
				return fmt.Errorf("migrate needs the postgres driver (set DATABASE_URL)")
			}
			runner := migration.NewRunner()
			if err := runner.Run(cmd.Context(), c.DB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %s\n", runner.Version())
			return nil
		},
	}
}

func newImportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import-excel [file]",
		Short: "Import observations, exposures, symptoms and consents from a workbook",
		Long: `Import a .xlsx workbook (sheets: metrics, exposures, symptoms, consents)
or a single .csv table into the postgres store.

Example: DATABASE_URL=postgres://... healthloop import-excel export.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if c.Inputs == nil {
				return fmt.Errorf("import-excel needs the postgres driver (set DATABASE_URL)")
			}
			fx, err := excel.LoadFixture(args[0], c.Registry)
			if err != nil {
				return err
			}
			if err := fx.SaveTo(cmd.Context(), c.Inputs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d users from %s\n", len(fx.Users()), args[0])
			return nil
		},
	}
}

// parseWindow reads START..END
func parseWindow(s string) (core.Window, error) {
	start, end, ok := strings.Cut(s, "..")
	if !ok {
		return core.Window{}, fmt.Errorf("invalid window %q (use START..END)", s)
	}
	a, err := core.ParseDay(start)
	if err != nil {
		return core.Window{}, err
	}
	b, err := core.ParseDay(end)
	if err != nil {
		return core.Window{}, err
	}
	return core.NewWindow(a, b)
}
