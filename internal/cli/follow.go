package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docsim/docsim-client/internal/core"
	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/progress"
	"github.com/docsim/docsim-client/internal/results"
)

// followOptions controls what happens once a followed task finishes.
type followOptions struct {
	simulate    bool
	downloadDir string
	xlsxPath    string
}

func (o followOptions) implyWait() bool {
	return o.simulate || o.downloadDir != "" || o.xlsxPath != ""
}

func addFollowFlags(cmd *cobra.Command, opts *followOptions) {
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Launch the simulation once the task completes with simulation input")
	cmd.Flags().StringVarP(&opts.downloadDir, "download-dir", "d", "", "Download outputs and artifacts into this directory")
	cmd.Flags().StringVar(&opts.xlsxPath, "xlsx", "", "Write tables and CSV outputs to this .xlsx workbook")
}

// followTask waits for the tracked primary task, prints its result and runs
// the follow-up steps in opts.
func followTask(ctx context.Context, out io.Writer, s *session, taskID string, opts followOptions) error {
	orch := s.engine.Orchestrator()

	st, err := awaitTask(ctx, orch, "Waiting for "+taskID, func(st core.State) (bool, string) {
		if st.Primary == nil {
			return true, ""
		}
		return st.Primary.Status.IsTerminal(), statusLine(st.Primary)
	})
	if err != nil {
		return err
	}
	if st.Primary == nil {
		return fmt.Errorf("task %s is no longer tracked", taskID)
	}

	if st.Primary.Status == models.StatusError {
		printTaskFailure(out, st.Primary)
		if st.View != nil {
			printView(out, st.View)
		}
		if st.Primary.Err != nil {
			return st.Primary.Err
		}
		return fmt.Errorf("task %s failed", taskID)
	}

	printView(out, st.View)

	if opts.xlsxPath != "" && st.View != nil {
		if err := writeXLSXFile(opts.xlsxPath, st.View); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n✓ Workbook written to %s\n", opts.xlsxPath)
	}

	if opts.downloadDir != "" && st.View != nil {
		if err := saveOutputs(out, opts.downloadDir, st.View); err != nil {
			return err
		}
		if _, err := downloadArtifacts(ctx, out, s, st.View.Artifacts, opts.downloadDir, false); err != nil {
			return err
		}
	}

	if !opts.simulate {
		return nil
	}
	if st.View == nil || !st.View.SimulationReady {
		return fmt.Errorf("task %s did not produce simulation input", taskID)
	}
	return runSimulation(ctx, out, s, taskID, opts.downloadDir)
}

// runSimulation launches the simulation for taskID and waits for it.
func runSimulation(ctx context.Context, out io.Writer, s *session, taskID, downloadDir string) error {
	orch := s.engine.Orchestrator()

	simID, err := orch.LaunchSimulation(ctx, taskID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSimulation %s started\n", simID)

	st, err := awaitTask(ctx, orch, "Simulating "+simID, func(st core.State) (bool, string) {
		if st.Simulation == nil {
			return true, ""
		}
		return st.Simulation.Status.IsTerminal(), simID + ": " + string(st.Simulation.Status)
	})
	if err != nil {
		return err
	}
	if st.Simulation == nil {
		return fmt.Errorf("simulation %s is no longer tracked", simID)
	}

	view := results.SimulationView(st.Simulation)
	fmt.Fprintln(out)
	printView(out, view)

	if st.Simulation.Status == models.StatusError {
		if st.Simulation.Err != nil {
			return st.Simulation.Err
		}
		return fmt.Errorf("simulation %s failed", simID)
	}

	if downloadDir != "" && len(view.Artifacts) > 0 {
		if _, err := downloadArtifacts(ctx, out, s, view.Artifacts, downloadDir, false); err != nil {
			return err
		}
	}
	return nil
}

// awaitTask blocks until check reports done, showing its status text on a
// spinner.
func awaitTask(ctx context.Context, orch *core.Orchestrator, desc string, check func(core.State) (bool, string)) (core.State, error) {
	spinner := progress.NewStatusSpinner(desc)
	defer spinner.Stop()

	return orch.Await(ctx, func(st core.State) bool {
		done, line := check(st)
		if line != "" {
			spinner.Set(line)
		}
		return done
	})
}

func writeXLSXFile(path string, v *results.View) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create workbook: %w", err)
	}
	if err := results.WriteXLSX(v, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return f.Close()
}

// saveOutputs writes every text and CSV output of v into dir.
func saveOutputs(out io.Writer, dir string, v *results.View) error {
	if len(v.Outputs) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, o := range v.Outputs {
		path := filepath.Join(dir, safeFileName(o.FileName()))
		if err := os.WriteFile(path, []byte(o.Content), 0644); err != nil {
			return fmt.Errorf("failed to save output %s: %w", o.Name, err)
		}
		fmt.Fprintf(out, "✓ %s\n", path)
	}
	return nil
}

// safeFileName keeps server-chosen output names inside the target directory.
func safeFileName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "output"
	}
	return name
}
