package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/ddecal/go-controller/internal/logging"
)

// #region flags
var (
	logLevel    string
	logJSON     bool
	metricsAddr string

	logger = zap.NewNop()
)

// #endregion flags

// #region root
var rootCmd = &cobra.Command{
	Use:   "ddecal",
	Short: "Direction-dependent calibration with pluggable solution constraints",
	Long: `ddecal runs the constrained calibration solve loop.

Commands:
  solve          solve every interval of a scenario and store the runs
  inspect        list stored runs and their constraint results
  replay         replay a fixture and compare against its expected outcomes
  serve-stepper  serve a fixture target as a remote solver step over gRPC`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "json-logs", false, "write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	l, err := logging.NewLogger(logLevel, logJSON)
	if err != nil {
		return usageError(err)
	}
	logger = l

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", metricsAddr))
	}
	return nil
}

// #endregion root

// #region main

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageError marks bad invocations; they exit with 2 like the flag package.
func usageError(err error) error { return &exitError{code: 2, err: err} }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// #endregion main
