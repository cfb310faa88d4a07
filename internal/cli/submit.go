package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docsim/docsim-client/internal/api"
	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/models"
	"github.com/docsim/docsim-client/internal/progress"
)

// newSubmitCmd creates the 'submit' command.
func newSubmitCmd() *cobra.Command {
	var (
		methodName string
		params     []string
		paramsFile string
		opts       followOptions
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a document for extraction",
		Long: `Submit a document to the gateway with the chosen extraction method.

Without --wait the task id is printed and the command returns. With --wait
the task is polled until it completes or fails and the result is printed.
--simulate, --download-dir and --xlsx imply --wait.

Examples:
  docsim submit scan.pdf --method local --param language=eng \
      --param deskew=true --param clean=false --param force_ocr=false --wait
  docsim submit drawing.pdf --method glm_abaqus_generator \
      --param serial_number=SN-1 --simulate --download-dir ./out`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := parseMethodFlag(methodName)
			if err != nil {
				return err
			}
			submission, err := config.BuildParams(paramsFile, params)
			if err != nil {
				return err
			}
			// Reject bad options before touching the file or the network.
			if _, err := api.ValidateOptions(method, submission); err != nil {
				return err
			}

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open document: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat document: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			name := filepath.Base(path)
			doc := &models.Document{
				Name:   name,
				Reader: progress.NewUploadReader(f, info.Size(), name, nil),
				Size:   info.Size(),
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			handle, err := s.engine.Orchestrator().Submit(ctx, method, doc, submission)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Submitted %s as %s task %s\n", name, method, handle.TaskID)

			if !wait && !opts.implyWait() {
				return nil
			}
			return followTask(ctx, out, s, handle.TaskID, opts)
		},
	}

	cmd.Flags().StringVarP(&methodName, "method", "m", "", "Extraction method (see 'docsim methods')")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Method option as key=value (repeatable)")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "YAML file with method options (flags win)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the task to finish and print the result")
	addFollowFlags(cmd, &opts)

	return cmd
}
