package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/queuesched/backend/distributed"
	"github.com/xraph/queuesched/store"
)

// errJobRunning is returned by cancel when a worker owns the job.
var errJobRunning = errors.New("job is being processed")

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				if err := st.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", a.cfg.Store)
				return nil
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				j, err := st.GetJob(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get job: %w", err)
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(j)
				}

				fmt.Fprintf(out, "Job:      %s\n", j.JobID)
				fmt.Fprintf(out, "  Name:   %s\n", j.JobName)
				fmt.Fprintf(out, "  Queue:  %s\n", j.QueueName)
				fmt.Fprintf(out, "  Status: %s\n", j.Status)
				if owner := j.Owner(); owner != "" {
					fmt.Fprintf(out, "  Worker: %s\n", owner)
				}
				if j.RunAfter != nil {
					fmt.Fprintf(out, "  After:  %s\n", j.RunAfter.UTC().Format("2006-01-02T15:04:05Z07:00"))
				}
				fmt.Fprintf(out, "  Tries:  %d\n", j.RetryAttempts)
				if j.LatestError != nil {
					fmt.Fprintf(out, "  Error:  %s: %s\n", j.LatestError.Error.Name, j.LatestError.Error.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the row as JSON")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Delete a job no worker is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			return a.withStore(ctx, func(st store.Store) error {
				status, err := st.GetJobStatus(ctx, id)
				if err != nil {
					return fmt.Errorf("get job: %w", err)
				}
				if status == distributed.StatusProcessing {
					return fmt.Errorf("cancel %s: %w", id, errJobRunning)
				}
				if err := st.DeleteJob(ctx, "", id); err != nil {
					return fmt.Errorf("cancel %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", id)
				return nil
			})
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job_id>",
		Short: "Reschedule an errored job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			return a.withStore(ctx, func(st store.Store) error {
				if err := st.RetryErroredJob(ctx, id); err != nil {
					return fmt.Errorf("retry %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rescheduled %s\n", id)
				return nil
			})
		},
	}
}
