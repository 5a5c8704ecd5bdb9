package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"brandforge/internal/experiment"
	"brandforge/internal/scorecard"
)

// Console prints the one-glance run summary. colored forces ANSI on or off
// explicitly so output stays stable under CI and pipes.
func Console(out io.Writer, sc *scorecard.Scorecard, colored bool) {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	warn := color.New(color.FgYellow)
	for _, c := range []*color.Color{pass, fail, warn} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	gate := pass.Sprint("PASSED")
	if !sc.OverallPassed {
		gate = fail.Sprint("FAILED")
	}
	fmt.Fprintf(out, "%s  %s  %.2f/%.0f  verdict %s\n",
		sc.JobID, gate, sc.Overall, sc.MaxOverall, sc.Verdict)

	for i := range sc.PerLayer {
		lr := &sc.PerLayer[i]
		if lr.Passed {
			continue
		}
		fmt.Fprintf(out, "  %s %s %s %s\n",
			fail.Sprint("x"), lr.LayerID, lr.Name, layerSummary(lr))
		if n := len(lr.Findings); n > 0 {
			fmt.Fprintf(out, "    %s\n", warn.Sprint(findingCounts(lr.Findings)))
		}
	}

	if sc.Message != "" {
		fmt.Fprintf(out, "%s [%s] %s\n", fail.Sprint("error:"), sc.ErrorCategory, sc.Message)
	}
}

// ExperimentConsole prints the variant table and the winner line.
func ExperimentConsole(out io.Writer, sum *experiment.Summary, colored bool) {
	win := color.New(color.FgGreen, color.Bold)
	lost := color.New(color.FgRed)
	for _, c := range []*color.Color{win, lost} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	fmt.Fprintf(out, "experiment %s: %d variants\n", sum.ParentJobID, len(sum.Variants))
	for i := range sum.Variants {
		v := &sum.Variants[i]
		line := fmt.Sprintf("V%d %s  composite %.4f", v.Index, v.JobID, v.Composite)
		switch {
		case v.Failed:
			fmt.Fprintf(out, "  %s  %s\n", line, lost.Sprintf("failed: %s", v.Err))
		case v.Index == sum.WinnerIndex:
			fmt.Fprintf(out, "  %s\n", win.Sprint(line+"  <- winner"))
		default:
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	fmt.Fprintf(out, "winner: %s\n", sum.WinnerJobID)
	fmt.Fprintln(out, sum.Reasoning)
}

func findingCounts(findings []scorecard.Finding) string {
	var critical, warning, info int
	for _, f := range findings {
		switch f.Severity {
		case scorecard.SeverityCritical:
			critical++
		case scorecard.SeverityWarning:
			warning++
		default:
			info++
		}
	}
	out := ""
	for _, part := range []struct {
		n     int
		label string
	}{{critical, "critical"}, {warning, "warning"}, {info, "info"}} {
		if part.n == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", part.n, part.label)
	}
	return out
}
