package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/application"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/infrastructure/postgres"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/infrastructure/rpc"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/ledger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/scenario"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/spf13/cobra"
)

// command line options
var (
	files     []string
	builtins  bool
	ledgerURL string
	parallel  int
	journal   bool
	output    string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "scenario",
		Short:        "Drive staking farm scenarios against a ledger",
		SilenceUsage: true,
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run scenarios and print a JSON report",
		RunE:  runScenarios,
	}
	run.Flags().StringSliceVarP(&files, "file", "f", nil, "scenario YAML file, repeatable")
	run.Flags().BoolVar(&builtins, "builtin", false, "run the built-in scenarios")
	run.Flags().StringVar(&ledgerURL, "ledger-url", "", "remote ledger API; an in-process sandbox is used when empty")
	run.Flags().IntVarP(&parallel, "parallel", "p", 0, "scenarios run at once (default 1 against a remote ledger, unbounded in-process)")
	run.Flags().BoolVar(&journal, "journal", false, "journal ledger calls to postgres (also enabled by JOURNAL_ENABLED)")
	run.Flags().StringVarP(&output, "output", "o", "", "write the report to this file instead of stdout")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the built-in scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			for _, sc := range scenario.Builtins() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d steps\n", sc.Name, len(sc.Steps))
			}
		},
	}

	validate := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Parse scenario files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s ok\n", path, sc.Name)
			}
			return nil
		},
	}

	root.AddCommand(run, list, validate)
	return root
}

func runScenarios(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	var scenarios []*scenario.Scenario
	if builtins {
		scenarios = append(scenarios, scenario.Builtins()...)
	}
	for _, path := range append(files, args...) {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, sc)
	}
	if len(scenarios) == 0 {
		return errors.New("no scenarios given, use --file or --builtin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo domain.JournalRepository
	if journal || cfg.Database.Enabled {
		db, err := postgres.NewConnection(&cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := postgres.RunMigrations(db, log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		repo = postgres.NewRepository(db, log)
	}

	var factory scenario.ServiceFactory
	if ledgerURL != "" {
		ledgerCfg := cfg.Ledger
		ledgerCfg.URL = ledgerURL
		client := rpc.NewClient(&ledgerCfg, log)
		factory = func(ctx context.Context, sc *scenario.Scenario) (*application.Service, error) {
			return application.NewService(client, repo, &cfg.Contracts, &cfg.Chain, log), nil
		}
		// Scenarios sharing one remote ledger see each other's accounts.
		if parallel == 0 {
			parallel = 1
		}
		log.Infow("Running against remote ledger", "url", ledgerURL, "parallel", parallel)
	} else {
		factory = func(ctx context.Context, sc *scenario.Scenario) (*application.Service, error) {
			sb, err := ledger.NewSandbox(cfg.Chain, cfg.Contracts, time.Now().UTC(), log)
			if err != nil {
				return nil, err
			}
			return application.NewService(sb, repo, &cfg.Contracts, &cfg.Chain, log), nil
		}
	}

	reports, runErr := scenario.RunAll(ctx, scenarios, factory, parallel, log)

	if repo != nil {
		for _, report := range reports {
			if report.RunID == "" {
				continue
			}
			counts, err := repo.CountByStatus(ctx, report.RunID)
			if err != nil {
				log.Errorw("Failed to read journal summary", "run_id", report.RunID, "error", err)
				continue
			}
			log.Infow("Journal summary", "scenario", report.Name, "run_id", report.RunID, "calls", counts)
		}
	}

	if err := writeReport(cmd, reports); err != nil {
		return err
	}

	passed := 0
	for _, report := range reports {
		if report.Passed() {
			passed++
		}
	}
	log.Infow("Scenarios finished", "passed", passed, "failed", len(reports)-passed)

	return runErr
}

func writeReport(cmd *cobra.Command, reports []*scenario.Report) error {
	out := cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
