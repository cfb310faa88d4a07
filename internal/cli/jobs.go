package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsim/docsim-client/internal/models"
)

const jobTimeFormat = "2006-01-02 15:04"

// newJobsCmd creates the 'jobs' command.
func newJobsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List your past tasks",
		Long: `List the tasks submitted with your account, newest first.

The task ids can be passed to 'docsim status', 'watch', 'simulate' and
'download'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := s.engine.API().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(jobs) > limit {
				jobs = jobs[:limit]
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n jobs (0 for all)")

	return cmd
}

func printJobs(out io.Writer, jobs []models.JobSummary) error {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tFILE\tSTATUS\tCREATED\tCOMPLETED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", j.TaskID, j.FileName, j.Status, jobTime(j.CreatedAt), jobTime(j.CompletedAt))
	}
	return w.Flush()
}

func jobTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(jobTimeFormat)
}
