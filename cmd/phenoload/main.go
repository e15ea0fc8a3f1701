// Command phenoload loads a phenotype ontology export into the results
// database and provisions the per-phenotype partitions of the variant and
// aggregate fact tables.
//
// main stays tiny: it wires signal handling and hands over to the cobra
// command tree built by newRootCmd. Every side effect (environment, store
// constructor, input resolution, logger, output streams) comes in through
// Deps so the commands can be tested hermetically.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"phenoload/internal/config"
	"phenoload/internal/datasource"
	"phenoload/internal/datasource/httpds"
	"phenoload/internal/datasource/s3source"
	"phenoload/internal/importer"
	"phenoload/internal/logging"
	"phenoload/internal/metrics"
	"phenoload/internal/metrics/datadog"
	"phenoload/internal/metrics/prompush"
	"phenoload/internal/parser/csv"
	"phenoload/internal/phenotype"
	"phenoload/internal/storage"

	// register all store backends; store.kind picks one at runtime.
	_ "phenoload/internal/storage/all"
)

// Deps holds the process boundaries.
type Deps struct {
	Getenv    func(string) string
	OpenStore func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	Resolve   func(ctx context.Context, location string, opt datasource.Options) (datasource.Source, error)
	NewLogger func(mode, level string) (*zap.SugaredLogger, error)

	Stdout io.Writer
	Stderr io.Writer
}

// defaultDeps wires production implementations.
func defaultDeps() Deps {
	return Deps{
		Getenv:    os.Getenv,
		OpenStore: storage.New,
		Resolve:   datasource.Resolve,
		NewLogger: func(mode, level string) (*zap.SugaredLogger, error) { return logging.New(mode, level) },
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultDeps()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "phenoload: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// newRootCmd builds the command tree. The root command runs the import;
// validate-config and plan share its flags.
func newRootCmd(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "phenoload",
		Short: "Load a phenotype ontology and provision fact-table partitions",
		Long: `phenoload reads a phenotype export (id, parent_id, display_name, name,
description, type, age_name), orders it parents-first, recreates the base
schema, inserts every phenotype and makes sure phenotype_variant and
phenotype_aggregate carry one partition per phenotype with all/female/male
sub-partitions.

Partition reconciliation drops and recreates partitions whose layout is
wrong. Run it while partitions are being provisioned, before variant data is
loaded into them, or pass --require-empty.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, deps, false)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "validate-config",
		Short: "Validate the resolved configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(cmd, deps); err != nil {
				return err
			}
			fmt.Fprintln(deps.Stdout, "configuration is valid")
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "plan",
		Short: "Show the partition DDL an import would run, without writing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, deps, true)
		},
	})
	root.SetOut(deps.Stdout)
	root.SetErr(deps.Stderr)
	return root
}

// loadConfig resolves and validates the configuration, printing every issue.
func loadConfig(cmd *cobra.Command, deps Deps) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags(), deps.Getenv)
	if err != nil {
		return cfg, err
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(deps.Stderr, iss.Error())
	}
	if errs := config.Errors(issues); len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %d error(s)", len(errs))
	}
	return cfg, nil
}

func runImport(cmd *cobra.Command, deps Deps, plan bool) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}

	log, err := deps.NewLogger(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	flush := setupMetrics(cfg.Metrics, log)
	defer flush()

	d, err := newDriver(ctx, cfg, deps, log)
	if err != nil {
		return err
	}

	if plan {
		sum, err := d.Plan(ctx)
		if err != nil {
			return err
		}
		printPlan(deps.Stdout, sum)
		return nil
	}

	sum, err := d.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(deps.Stdout, sum, cfg.Import)
	return nil
}

// newDriver resolves the input and schema locations and maps cfg onto the
// importer options.
func newDriver(ctx context.Context, cfg config.Config, deps Deps, log *zap.SugaredLogger) (*importer.Driver, error) {
	dsOpt := datasource.Options{
		HTTP: httpds.Config{
			Timeout:            cfg.Input.HTTP.Timeout,
			MaxRetries:         cfg.Input.HTTP.MaxRetries,
			InsecureSkipVerify: cfg.Input.HTTP.InsecureSkipVerify,
		},
		S3: s3source.Config{
			Region:    cfg.Input.S3.Region,
			Endpoint:  cfg.Input.S3.Endpoint,
			PathStyle: cfg.Input.S3.PathStyle,
		},
	}
	input, err := deps.Resolve(ctx, cfg.Input.File, dsOpt)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}

	var schema datasource.Source
	if !cfg.Import.PartitionsOnly && strings.TrimSpace(cfg.Store.Schema) != "" {
		if schema, err = deps.Resolve(ctx, cfg.Store.Schema, dsOpt); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
	}

	policy, err := phenotype.ParseOrphanPolicy(cfg.Import.OrphanPolicy)
	if err != nil {
		return nil, err
	}
	mode, err := storage.ParseInsertMode(cfg.Import.InsertMode)
	if err != nil {
		return nil, err
	}

	scfg := storage.Config{
		Kind:           cfg.Store.Kind,
		DSN:            cfg.Store.ResolveDSN(),
		HierarchyTable: cfg.Store.HierarchyTable,
		VariantTable:   cfg.Store.VariantTable,
		AggregateTable: cfg.Store.AggregateTable,
	}

	return &importer.Driver{
		Input:  input,
		Schema: schema,
		OpenStore: func(ctx context.Context) (storage.Store, error) {
			return deps.OpenStore(ctx, scfg)
		},
		Opt: importer.Options{
			Job:            cfg.Metrics.Job,
			PartitionsOnly: cfg.Import.PartitionsOnly,
			DryRun:         cfg.Import.DryRun,
			Fixtures:       cfg.Import.Fixtures,
			RequireEmpty:   cfg.Import.RequireEmpty,
			OrphanPolicy:   policy,
			InsertMode:     mode,
			DropTables:     cfg.Store.DropTables,
			CSV: csv.Options{
				Comma:      cfg.Input.CommaRune(),
				LazyQuotes: cfg.Input.LazyQuotes,
				Encoding:   cfg.Input.Encoding,
			},
		},
		Log: log,
	}, nil
}

// setupMetrics installs the configured backend and returns its flush func.
// A backend that cannot be built is logged and metrics stay disabled.
func setupMetrics(m config.Metrics, log *zap.SugaredLogger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch m.Backend {
	case "", "none":
		return func() {}
	case "prometheus":
		b, err = prompush.NewBackend(m.Job, m.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       m.DatadogAddr,
			Namespace:  "phenoload.",
			GlobalTags: []string{"job:" + m.Job},
		})
	default:
		err = fmt.Errorf("unknown backend %q", m.Backend)
	}
	if err != nil {
		log.Warnw("metrics disabled", "backend", m.Backend, "error", err)
		return func() {}
	}
	log.Infow("metrics enabled", "backend", m.Backend, "job", m.Job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warnw("metrics flush failed", "error", err)
		}
	}
}

func printSummary(w io.Writer, sum importer.Summary, imp config.Import) {
	verb := "Imported"
	switch {
	case imp.DryRun:
		verb = "Dry run: would import"
	case imp.PartitionsOnly:
		verb = "Reconciled partitions for"
	}
	fmt.Fprintf(w, "[%.2f s] %s %d phenotypes (%d partition sets recreated, %d already consistent)\n",
		sum.Elapsed.Seconds(), verb, sum.Records, sum.Recreated, sum.Consistent)
	if n := len(sum.Orphans); n > 0 {
		fmt.Fprintf(w, "%d phenotype(s) referenced a missing parent; see the log for details\n", n)
	}
	if imp.DryRun || imp.PartitionsOnly {
		return
	}
	fmt.Fprintln(w, "please run the following scripts:")
	for _, s := range importer.FollowUp {
		fmt.Fprintf(w, "    %s\n", s)
	}
}

func printPlan(w io.Writer, sum importer.Summary) {
	for _, p := range sum.Plans {
		acts := make([]string, len(p.Actions))
		for i, a := range p.Actions {
			acts[i] = a.String()
		}
		fmt.Fprintf(w, "phenotype %d: %s\n", p.PhenotypeID, strings.Join(acts, ", "))
	}
	fmt.Fprintf(w, "%d of %d phenotypes need partition DDL\n", sum.Recreated, sum.Records)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
