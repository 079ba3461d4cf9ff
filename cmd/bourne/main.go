package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homemade/bourne/logger"
	"github.com/homemade/bourne/transfer"
)

var version = "0.1.0"

// options are the flags shared by every command.
type options struct {
	configFiles []string
	envJSON     string
	logLevel    string
	logEncoding string
	metricsFile string
	hooksDir    string
	recordDir   string
	object      string
	all         bool
	dataDir     string
	remove      bool
	reportFile  string
	stdout      io.Writer
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	opts := &options{stdout: stdout}

	root := &cobra.Command{
		Use:   "bourne",
		Short: "Move Salesforce records between an org and local JSON files",
		Long: `bourne exports records from a Salesforce org into one JSON file per record,
and imports staged records into an org through the bourne Apex REST endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVarP(&opts.configFiles, "configfile", "c", nil, "Path to the data configuration file, repeat to layer overrides (required)")
	root.PersistentFlags().StringVar(&opts.envJSON, "env-json", "", "Name of an environment variable holding a JSON object of variables for the configuration")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logEncoding, "log-encoding", "console", "Log encoding (console, json)")
	root.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	root.PersistentFlags().StringVar(&opts.hooksDir, "hooks-dir", "", "Directory relative hook paths are resolved against, overrides scripts.baseDir")
	root.PersistentFlags().StringVar(&opts.recordDir, "record-requests", "", "Record every remote request and response under this directory")
	root.PersistentFlags().StringVarP(&opts.object, "object", "o", "", "The object type to process")
	root.PersistentFlags().BoolVarP(&opts.all, "processall", "a", false, "Process every object type listed in allObjects")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bourne v%s\n", version)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Export records from the org to the data directory",
		Example: `  bourne export -c config/bourne.yaml -a
  bourne export -c config/bourne.yaml -o Product2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts)
		},
	})

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import staged records into the org",
		Example: `  bourne import -c config/bourne.yaml -a
  bourne import -c config/bourne.yaml -o Product2 -r`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts)
		},
	}
	importCmd.Flags().StringVarP(&opts.dataDir, "datadir", "d", "", "The directory the staged records are read from, overrides dataDir")
	importCmd.Flags().BoolVarP(&opts.remove, "remove", "r", false, "Delete the records instead of upserting them, in reverse object order")
	importCmd.Flags().StringVar(&opts.reportFile, "report", "", "Write the failed records of every object type to this CSV file")
	root.AddCommand(importCmd)

	return root
}

// setup loads the configuration and builds the orchestrator.
func setup(opts *options) (*transfer.Orchestrator, *zap.Logger, error) {
	if len(opts.configFiles) == 0 {
		return nil, nil, transfer.ConfigError("a configuration file is required, use --configfile")
	}
	lcfg := logger.DefaultConfig()
	lcfg.Level = opts.logLevel
	lcfg.Encoding = opts.logEncoding
	log, err := logger.New(lcfg)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := transfer.LoadConfig(transfer.YAMLConfigUnmarshaler{}, transfer.DefaultEnv(opts.envJSON), opts.configFiles...)
	if err != nil {
		return nil, log, err
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.hooksDir != "" {
		cfg.Scripts.BaseDir = opts.hooksDir
	}

	client := transfer.NewSalesforceClient(cfg, log)
	if opts.recordDir != "" {
		client.RecordRequests = true
		client.RecordingDir = opts.recordDir
	}
	return &transfer.Orchestrator{
		Config:   cfg,
		Store:    transfer.NewRecordStore(cfg.DataDir, log),
		Remote:   client,
		Registry: transfer.NewHookRegistry(),
		Loader:   transfer.ExecLoader{BaseDir: cfg.Scripts.BaseDir},
		Logger:   log,
		Metrics:  transfer.NewMetrics(),
		Out:      opts.stdout,
	}, log, nil
}

func runExport(ctx context.Context, opts *options) error {
	o, log, err := setup(opts)
	if log != nil {
		defer log.Sync() //nolint:errcheck
	}
	if err != nil {
		return err
	}
	_, err = o.Export(ctx, transfer.Selector{Object: opts.object, All: opts.all})
	return finish(o, opts, log, err)
}

func runImport(ctx context.Context, opts *options) error {
	o, log, err := setup(opts)
	if log != nil {
		defer log.Sync() //nolint:errcheck
	}
	if err != nil {
		return err
	}
	outcomes, err := o.Import(ctx, transfer.Selector{Object: opts.object, All: opts.all}, opts.remove)
	if opts.reportFile != "" {
		if rerr := writeReport(opts.reportFile, outcomes); rerr != nil {
			log.Warn("failed to write failure report", zap.String("file", opts.reportFile), zap.Error(rerr))
		}
	}
	return finish(o, opts, log, err)
}

func writeReport(path string, outcomes []transfer.TransferOutcome) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = transfer.WriteFailureReport(f, outcomes); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// finish writes the metrics file and returns the run error.
func finish(o *transfer.Orchestrator, opts *options, log *zap.Logger, err error) error {
	if opts.metricsFile != "" {
		if merr := o.Metrics.WriteTextfile(opts.metricsFile); merr != nil {
			log.Warn("failed to write metrics", zap.String("file", opts.metricsFile), zap.Error(merr))
		}
	}
	return err
}
