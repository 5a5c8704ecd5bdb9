// forge drives InDesign (or a render service) to produce brand documents and
// gates every artifact through the layered PDF validation pipeline.
//
// Exit codes: 0 the document passed the quality gate, 1 it was produced but
// failed validation, 3 the pipeline itself could not run (transport, IO or
// configuration fault).
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"brandforge/internal/logging"
	"brandforge/internal/scorecard"
)

var (
	flagVerbose   bool
	flagStrict    bool
	flagCI        bool
	flagDryRun    bool
	flagThreshold float64
	flagOutDir    string
	flagReportDir string
	flagProxyURL  string

	// validate-only flags
	flagPDF       string
	flagJobConfig string
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Produce brand documents and gate them through layered PDF validation",
	Long: `forge runs document jobs end to end: it routes each job to a worker
(the InDesign layout application behind the MCP proxy, or a headless render
service), then scores the produced PDF across six validation layers and
gates it against the job's rubric threshold.

Exit codes: 0 passed, 1 produced but failed validation, 3 infrastructure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		return logging.Initialize(logging.Options{
			Verbose: flagVerbose,
			LogDir:  filepath.Join(flagReportDir, "logs"),
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <job-config>",
	Short: "Produce and validate one document end to end",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

var validateOnlyCmd = &cobra.Command{
	Use:   "validate-only",
	Short: "Score an existing PDF against a job's gates without producing it",
	Args:  cobra.NoArgs,
	RunE:  runValidateOnly,
}

var experimentCmd = &cobra.Command{
	Use:   "experiment <job-config>",
	Short: "Run a job's variants and select a winner by weighted composite",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperiment,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&flagStrict, "strict", false, "Reject job configs that violate the schema")
	pf.BoolVar(&flagCI, "ci", false, "CI mode: no color on console output")
	pf.BoolVar(&flagDryRun, "dry-run", false, "Use synthetic vision and accessibility providers")
	pf.Float64Var(&flagThreshold, "threshold", -1, "Override qa.threshold (rubric points, 0-150)")
	pf.StringVar(&flagOutDir, "outdir", "out", "Directory for produced PDFs")
	pf.StringVar(&flagReportDir, "reportdir", "reports", "Directory for scorecards, subreports and history")
	pf.StringVar(&flagProxyURL, "proxy-url", "", "MCP proxy websocket URL (defaults to $MCP_PROXY_URL)")

	validateOnlyCmd.Flags().StringVar(&flagPDF, "pdf", "", "PDF to validate (required)")
	validateOnlyCmd.Flags().StringVar(&flagJobConfig, "job-config", "", "Job config holding the gates (required)")
	_ = validateOnlyCmd.MarkFlagRequired("pdf")
	_ = validateOnlyCmd.MarkFlagRequired("job-config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateOnlyCmd)
	rootCmd.AddCommand(experimentCmd)
}

// exitCodeError carries the scorecard exit code through cobra to main.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		if ec.msg != "" {
			fmt.Fprintln(os.Stderr, ec.msg)
		}
		os.Exit(ec.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(scorecard.ExitInfra)
}
