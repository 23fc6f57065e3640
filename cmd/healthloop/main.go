package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"healthloop/adapters/excel"
	"healthloop/adapters/memory"
	"healthloop/internal/config"
	"healthloop/internal/container"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	envFile string
	fixture string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "healthloop",
		Short: "Personal health analysis loop: baselines, findings, drivers and experiments",
		Long: `healthloop runs the analysis loop against the configured store.

Configuration comes from the environment (and an optional .env file). With
--fixture the store is an in-memory copy of an .xlsx/.csv workbook, which is
handy for offline runs:

  healthloop --fixture data.xlsx detect u1 sleep_duration --day 2025-01-14`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Environment file to load if present")
	root.PersistentFlags().StringVar(&g.fixture, "fixture", "", "Run against an in-memory copy of this .xlsx/.csv workbook")

	root.AddCommand(
		newRunDayCmd(g),
		newBaselineCmd(g),
		newDetectCmd(g),
		newAttributeCmd(g),
		newExperimentCmd(g),
		newEvaluateCmd(g),
		newDecideCmd(g),
		newGradeCmd(g),
		newMigrateCmd(g),
		newImportCmd(g),
	)
	return root
}

// open builds the container. A fixture forces the memory driver.
func (g *globalFlags) open(ctx context.Context) (*container.Container, error) {
	if g.envFile != "" {
		if _, err := os.Stat(g.envFile); err == nil {
			if err := godotenv.Load(g.envFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", g.envFile, err)
			}
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.fixture == "" {
		return container.New(ctx, cfg)
	}

	cfg.Database.Driver = "memory"
	store := memory.NewStore()
	c, err := container.New(ctx, cfg, container.WithMemoryStore(store))
	if err != nil {
		return nil, err
	}
	fx, err := excel.LoadFixture(g.fixture, c.Registry)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load fixture: %w", err)
	}
	fx.LoadInto(store)
	return c, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
