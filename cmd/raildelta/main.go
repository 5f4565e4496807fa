package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raildelta/raildelta/internal/pipeline"
	"github.com/raildelta/raildelta/pkg/config"
	"github.com/raildelta/raildelta/pkg/encoding"
	"github.com/raildelta/raildelta/pkg/fetch"
	"github.com/raildelta/raildelta/pkg/logger"
	"github.com/raildelta/raildelta/pkg/metrics"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "raildelta",
		Short: "raildelta - train delay dataset preparation pipeline",
		Long: `raildelta ingests Swiss ist-daten actual-data CSV archives, filters them
down to confirmed delay records, derives temporal features and categorical
encodings, and writes a partitioned Parquet dataset ready for model training.`,
	}

	root.AddCommand(versionCmd(), runCmd(), checkCmd(), validateCmd(), encodingsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("raildelta v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func runCmd() *cobra.Command {
	var (
		configFile string
		sourceDir  string
		outputPath string
		workers    int
		logLevel   string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full preparation pipeline",
		Long: `Run the full preparation pipeline: ingest, filter, featurize, encode,
write, validate. Settings come from the YAML configuration file; flags
override individual values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if sourceDir != "" {
				cfg.Ingest.SourceDir = sourceDir
			}
			if outputPath != "" {
				cfg.Output.Path = outputPath
			}
			if workers > 0 {
				cfg.Runtime.Workers = workers
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runPipeline(cfg, timeout)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional, defaults apply without it)")
	cmd.Flags().StringVarP(&sourceDir, "source", "s", "", "Source directory holding the delimited input files")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory for the Parquet dataset")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker count for partition-parallel stages (default: number of CPUs)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Hour, "Pipeline timeout")
	return cmd
}

func checkCmd() *cobra.Command {
	var (
		months int
		flat   bool
	)

	cmd := &cobra.Command{
		Use:   "check <archive-root>",
		Short: "Check that the extracted monthly archives are present",
		Long: `Check that the extracted ist-daten archives for the last N months exist
under the given root, one directory per month (YYYY-MM), before running
the pipeline against them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher := &fetch.LocalFetcher{Root: args[0], Flat: flat}
			missing := 0
			for _, id := range fetch.MonthsBack(time.Now(), months) {
				dir, err := fetcher.Ensure(cmd.Context(), id)
				if err != nil {
					fmt.Printf("%s  MISSING (%v)\n", id, err)
					missing++
					continue
				}
				fmt.Printf("%s  ok (%s)\n", id, dir)
			}
			if missing > 0 {
				return fmt.Errorf("%d of %d archives missing", missing, months)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&months, "months", "m", 3, "Number of months back to check")
	cmd.Flags().BoolVar(&flat, "flat", false, "Expect all files directly under the root instead of per-month directories")
	return cmd
}

func validateCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "validate <dataset-path>",
		Short: "Validate an already-written Parquet dataset",
		Long: `Reopen a written dataset, count rows, list columns, and check every
encoded column for a contiguous code range. Prints the report as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			report, verr := pipeline.NewValidator(logger.Get()).Run(ctx, args[0], nil)
			if report != nil {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			}
			return verr
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	return cmd
}

func encodingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encodings <artifact-path>",
		Short: "Print the mapping table of a persisted encoding artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := encoding.Load(args[0])
			if err != nil {
				return err
			}
			return table.WriteReport(os.Stdout)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func runPipeline(cfg *config.Config, timeout time.Duration) error {
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "raildelta-cli"))
	log.Info("starting pipeline",
		zap.String("source_dir", cfg.Ingest.SourceDir),
		zap.String("output_path", cfg.Output.Path),
		zap.Int("workers", cfg.Runtime.Workers))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	collector := metrics.NewCollector("raildelta")
	result, err := pipeline.New(cfg, collector, log).Run(ctx)
	if err != nil {
		log.Error("pipeline failed", zap.Error(err))
		return err
	}

	log.Info("pipeline finished",
		zap.Int64("rows_in", result.RowsIn),
		zap.Int64("rows_out", result.RowsOut),
		zap.Int("partitions", result.Write.Partitions),
		zap.String("output", result.Write.Path),
		zap.Duration("duration", result.Duration))
	return nil
}
