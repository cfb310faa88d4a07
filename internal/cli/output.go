package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/results"
)

// printView renders a projected task result.
func printView(out io.Writer, v *results.View) {
	if v == nil {
		return
	}

	fmt.Fprintf(out, "Task:    %s\n", v.TaskID)
	if v.Method != "" {
		fmt.Fprintf(out, "Method:  %s\n", v.Method)
	}
	fmt.Fprintf(out, "Status:  %s\n", v.Status)
	if v.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", v.Message)
	}

	if len(v.Tables) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tROWS\tCOLUMNS\tACCURACY")
		for _, t := range v.Tables {
			acc := "-"
			if t.Accuracy > 0 {
				acc = fmt.Sprintf("%.1f%%", t.Accuracy)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", t.Name, t.Rows, t.Columns, acc)
		}
		w.Flush()
	}

	for _, o := range v.Outputs {
		label := o.Name
		if o.Source != "" {
			label = o.Source + " / " + o.Name
		}
		fmt.Fprintf(out, "\n--- %s (%s) ---\n%s\n", label, o.Kind, strings.TrimRight(o.Content, "\n"))
	}

	if len(v.FileErrors) > 0 {
		fmt.Fprintln(out, "\nErrors:")
		for _, e := range v.FileErrors {
			fmt.Fprintf(out, "  ✗ %s\n", e)
		}
	}

	if len(v.Artifacts) > 0 {
		fmt.Fprintln(out, "\nArtifacts:")
		for _, a := range v.Artifacts {
			fmt.Fprintf(out, "  %-9s %s\n", a.Kind, a.FileName)
		}
	}

	if v.SimulationReady {
		fmt.Fprintf(out, "\nSimulation input ready. Run: docsim simulate %s --method %s\n", v.TaskID, v.Method)
	}
}

// printTaskFailure renders a task that ended in error.
func printTaskFailure(out io.Writer, task *models.PrimaryTask) {
	if task == nil {
		return
	}
	fmt.Fprintf(out, "✗ Task %s failed: %s\n", task.TaskID, task.Message)
}

// statusLine summarises a state for the spinner.
func statusLine(task *models.PrimaryTask) string {
	if task == nil {
		return "Waiting"
	}
	if task.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", task.TaskID, task.Status, task.Message)
	}
	return fmt.Sprintf("%s: %s", task.TaskID, task.Status)
}
