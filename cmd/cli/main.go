package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gokpi/adapters/excel"
	"gokpi/adapters/postgres"
	"gokpi/app"
	"gokpi/domain/dataset"
	"gokpi/domain/metric"
	"gokpi/domain/period"
	"gokpi/internal/config"
	"gokpi/internal/container"
	"gokpi/internal/custommetric"
	"gokpi/internal/testkit"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	var catalogPath string
	rootCmd := &cobra.Command{
		Use:   "gokpi-cli",
		Short: "GoKPI CLI for evaluating KPI catalogs against tabular data",
	}
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Catalog override file or directory (default: KPI_CATALOG_PATH)")

	rootCmd.AddCommand(
		newEvaluateCmd(&catalogPath),
		newCustomCmd(),
		newColumnsCmd(),
		newTemplatesCmd(),
		newCatalogCmd(&catalogPath),
		newGenerateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sourceFlags selects where a dataset is read from: a CSV/XLSX file given as
// the first argument, or a Postgres query.
type sourceFlags struct {
	sheet     string
	delimiter string
	query     string
	dbURL     string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "XLSX sheet (default: first sheet)")
	cmd.Flags().StringVar(&f.delimiter, "delimiter", ",", "CSV field delimiter")
	cmd.Flags().StringVar(&f.query, "query", "", "Read the dataset from this Postgres query instead of a file")
	cmd.Flags().StringVar(&f.dbURL, "db", "", "Postgres URL for --query (default: DATABASE_URL)")
}

func (f *sourceFlags) load(ctx context.Context, args []string) (*dataset.Dataset, error) {
	if f.query != "" {
		url := f.dbURL
		if url == "" {
			url = os.Getenv("DATABASE_URL")
		}
		if url == "" {
			return nil, fmt.Errorf("--query needs --db or DATABASE_URL")
		}
		db, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return postgres.NewDatasetReader(db, postgres.QueryConfig{Name: "query", Query: f.query}).ReadDataset(ctx)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("a data file or --query is required")
	}
	var delim rune
	if f.delimiter != "" {
		delim = []rune(f.delimiter)[0]
	}
	return excel.NewDataReader(excel.Config{FilePath: args[0], Sheet: f.sheet, Delimiter: delim}).ReadDataset(ctx)
}

func newEvaluateCmd(catalogPath *string) *cobra.Command {
	var src sourceFlags
	var metrics, trendMetrics, customs []string
	var dateColumn, granularity, format string
	var forecast, narrative bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "evaluate [data-file]",
		Short: "Evaluate the KPI catalog per period",
		Long: `Evaluate every catalog metric against a dataset, bucketed by period.

Placeholders are matched to dataset columns exactly, then fuzzily, then
semantically when OPENAI_API_KEY is set.

Examples:
  gokpi-cli evaluate sales.csv --granularity monthly
  gokpi-cli evaluate sales.xlsx --metrics "Average Order Value" --format markdown
  gokpi-cli evaluate --query "SELECT * FROM orders" --db postgres://localhost/shop
  gokpi-cli evaluate sales.csv --custom 'ARPC=sum("Revenue") / nunique("Customer ID")'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			g, err := period.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			custom, err := parseCustomMetrics(customs)
			if err != nil {
				return err
			}

			c, err := newContainer(ctx, *catalogPath)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())

			ds, err := src.load(ctx, args)
			if err != nil {
				return err
			}
			cat, err := c.Catalog.LoadCatalog(ctx)
			if err != nil {
				return err
			}

			bundle, err := c.KPI.Evaluate(ctx, app.EvaluationRequest{
				Dataset:       ds,
				Catalog:       cat,
				Metrics:       metrics,
				DateColumn:    dateColumn,
				Granularity:   g,
				CustomMetrics: custom,
				TrendMetrics:  trendMetrics,
				Forecast:      forecast,
			})
			if bundle == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v, output is partial\n", err)
			}
			return writeBundle(ctx, cmd.OutOrStdout(), c.Reports, bundle, format, narrative)
		},
	}

	src.register(cmd)
	cmd.Flags().StringSliceVar(&metrics, "metrics", nil, "Only evaluate these metrics and their dependencies")
	cmd.Flags().StringVar(&dateColumn, "date-column", "", "Date column to bucket by (default: detected)")
	cmd.Flags().StringVar(&granularity, "granularity", "", "day|week|month|none (default: inferred)")
	cmd.Flags().StringArrayVar(&customs, "custom", nil, "Custom metric as name=formula, repeatable")
	cmd.Flags().StringSliceVar(&trendMetrics, "trend", nil, "Metrics to summarize (default: all)")
	cmd.Flags().BoolVar(&forecast, "forecast", false, "Add a smoothed-series trend per metric")
	cmd.Flags().BoolVar(&narrative, "narrative", false, "Append an LLM narrative to markdown and html output")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json|summary|markdown|html")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop evaluation after this long and print the partial result")
	return cmd
}

func writeBundle(ctx context.Context, w io.Writer, reports *app.ReportService, bundle *app.ResultBundle, format string, narrative bool) error {
	switch format {
	case "json":
		return writeJSON(w, bundle)
	case "summary":
		return writeJSON(w, bundle.Summary())
	case "markdown":
		_, err := io.WriteString(w, reports.Build(ctx, bundle, narrative).Markdown)
		return err
	case "html":
		_, err := io.WriteString(w, reports.Build(ctx, bundle, narrative).HTML)
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

func newCustomCmd() *cobra.Command {
	var src sourceFlags

	cmd := &cobra.Command{
		Use:   "custom [data-file] name=formula...",
		Short: "Calculate custom metrics over the whole dataset",
		Long: `Calculate ad-hoc metrics built from sum, mean, count, min, max and
nunique over quoted column names.

Example: gokpi-cli custom sales.csv 'AOV=sum("Revenue") / nunique("Order ID")'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileArgs, specs := args[:1], args[1:]
			if src.query != "" {
				fileArgs, specs = nil, args
			}
			ms, err := parseCustomMetrics(specs)
			if err != nil {
				return err
			}
			if len(ms) == 0 {
				return fmt.Errorf("at least one name=formula is required")
			}
			ds, err := src.load(cmd.Context(), fileArgs)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), custommetric.New(ds).CalculateAll(ms))
		},
	}
	src.register(cmd)
	return cmd
}

func newColumnsCmd() *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "columns [data-file]",
		Short: "List the columns usable in custom metrics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := src.load(cmd.Context(), args)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), custommetric.New(ds).AvailableColumns())
		},
	}
	src.register(cmd)
	return cmd
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the custom metric templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeJSON(cmd.OutOrStdout(), custommetric.Templates())
		},
	}
}

func newCatalogCmd(catalogPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the effective metric catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context(), *catalogPath)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			cat, err := c.Catalog.LoadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"fingerprint": cat.Fingerprint(),
				"metrics":     cat.Definitions(),
			})
		},
	}
}

func newGenerateCmd() *cobra.Command {
	cfg := testkit.DefaultSalesConfig()
	var start, end string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic sales dataset as CSV",
		Long: `Write synthetic order lines whose columns match the built-in catalog.

Example: gokpi-cli generate --customers 500 --start 2024-01-01 --end 2024-12-31 > sales.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg.StartDate, err = time.Parse("2006-01-02", start); err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			if cfg.EndDate, err = time.Parse("2006-01-02", end); err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			cfg.EndDate = cfg.EndDate.Add(24*time.Hour - time.Second)
			lines := testkit.NewSalesDataGenerator(cfg).GenerateLines()
			return testkit.WriteCSV(cmd.OutOrStdout(), lines)
		},
	}

	cmd.Flags().IntVar(&cfg.CustomerCount, "customers", cfg.CustomerCount, "Number of customers")
	cmd.Flags().Float64Var(&cfg.AvgOrdersPerCustomer, "orders", cfg.AvgOrdersPerCustomer, "Average orders per customer")
	cmd.Flags().Float64Var(&cfg.MonthlyGrowth, "growth", cfg.MonthlyGrowth, "Monthly growth of order quantities")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for deterministic output")
	cmd.Flags().StringVar(&start, "start", cfg.StartDate.Format("2006-01-02"), "First order date")
	cmd.Flags().StringVar(&end, "end", cfg.EndDate.Format("2006-01-02"), "Last order date")
	return cmd
}

func newContainer(ctx context.Context, catalogPath string) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if catalogPath != "" {
		cfg.Catalog.OverridePath = catalogPath
	}
	return container.New(ctx, cfg)
}

// parseCustomMetrics splits name=formula pairs on the first '='
func parseCustomMetrics(specs []string) ([]metric.CustomMetric, error) {
	out := make([]metric.CustomMetric, 0, len(specs))
	for _, s := range specs {
		name, formula, ok := strings.Cut(s, "=")
		name, formula = strings.TrimSpace(name), strings.TrimSpace(formula)
		if !ok || name == "" || formula == "" {
			return nil, fmt.Errorf("custom metric %q must look like name=formula", s)
		}
		out = append(out, metric.CustomMetric{Name: name, Formula: formula})
	}
	return out, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
