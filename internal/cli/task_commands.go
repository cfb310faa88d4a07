package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/results"
)

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	var (
		methodName string
		raw        bool
	)

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the current status of a task",
		Long: `Make a single status call for a task and print the result.

With --method the payload of a finished task is rendered like 'submit --wait'
would. --raw prints the status payload exactly as returned by the gateway.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var method models.ExtractionMethod
			if methodName != "" {
				m, err := models.ParseMethod(methodName)
				if err != nil {
					return err
				}
				method = m
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			payload, err := s.engine.API().PollStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), args[0], method, payload, raw)
		},
	}

	cmd.Flags().StringVarP(&methodName, "method", "m", "", "Extraction method, to render finished results")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw status payload")

	return cmd
}

func printStatus(out io.Writer, taskID string, method models.ExtractionMethod, payload *models.StatusPayload, raw bool) error {
	if raw {
		data, err := json.MarshalIndent(payload.Raw, "", "  ")
		if err != nil {
			_, err = out.Write(payload.Raw)
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	terminal := payload.Status == models.RemoteCompleted || payload.Status == models.RemoteError
	if method == "" || !terminal {
		fmt.Fprintf(out, "Task:    %s\n", taskID)
		fmt.Fprintf(out, "Status:  %s\n", payload.Status)
		if payload.Message != "" {
			fmt.Fprintf(out, "Message: %s\n", payload.Message)
		}
		return nil
	}

	view, err := results.Project(method, taskID, payload)
	if err != nil {
		return err
	}
	printView(out, view)
	return nil
}

// newWatchCmd creates the 'watch' command.
func newWatchCmd() *cobra.Command {
	var (
		methodName string
		opts       followOptions
	)

	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow an already submitted task until it finishes",
		Long: `Attach to a task submitted earlier and poll it until it completes or
fails, then print the result. The method must match the one used at
submission; it selects how the result is rendered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return attachAndFollow(cmd, args[0], methodName, opts)
		},
	}

	cmd.Flags().StringVarP(&methodName, "method", "m", "", "Extraction method used at submission")
	addFollowFlags(cmd, &opts)

	return cmd
}

// newSimulateCmd creates the 'simulate' command.
func newSimulateCmd() *cobra.Command {
	var (
		methodName  string
		downloadDir string
	)

	cmd := &cobra.Command{
		Use:   "simulate <task-id>",
		Short: "Run the simulation for a finished Abaqus generator task",
		Long: `Attach to a task, wait for it to complete and launch the simulation on
its generated input file. The simulation is then followed until the solver
finishes; --download-dir fetches the result files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return attachAndFollow(cmd, args[0], methodName, followOptions{
				simulate:    true,
				downloadDir: downloadDir,
			})
		},
	}

	cmd.Flags().StringVarP(&methodName, "method", "m", string(models.MethodGLMAbaqusGenerator), "Extraction method used at submission")
	cmd.Flags().StringVarP(&downloadDir, "download-dir", "d", "", "Download simulation results into this directory")

	return cmd
}

func attachAndFollow(cmd *cobra.Command, taskID, methodName string, opts followOptions) error {
	method, err := parseMethodFlag(methodName)
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.Orchestrator().Attach(models.TaskHandle{TaskID: taskID, Method: method}); err != nil {
		return err
	}
	return followTask(cmd.Context(), cmd.OutOrStdout(), s, taskID, opts)
}
