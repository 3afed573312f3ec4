package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mzxrai/memva-sub002/internal/api/v1/handlers"
)

func init() {
	jobsCmd.AddCommand(enqueueJobCmd)
	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(jobStatsCmd)
	jobsCmd.AddCommand(cancelJobCmd)

	enqueueJobCmd.Flags().StringP("type", "t", "", "Job type")
	enqueueJobCmd.Flags().StringP("data", "d", "", "Job payload as JSON")
	enqueueJobCmd.Flags().IntP("priority", "p", 0, "Job priority (higher runs sooner)")
	_ = enqueueJobCmd.MarkFlagRequired("type")

	listJobsCmd.Flags().IntP("limit", "l", 0, "Limit the number of jobs returned")
	listJobsCmd.Flags().String("status", "", "Filter jobs by status")
	listJobsCmd.Flags().StringP("type", "t", "", "Filter jobs by type")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage jobs",
}

var enqueueJobCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a new job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobType, _ := cmd.Flags().GetString("type")
		data, _ := cmd.Flags().GetString("data")
		priority, _ := cmd.Flags().GetInt("priority")

		req := handlers.CreateJobRequest{Type: jobType, Priority: priority}
		if data != "" {
			if !json.Valid([]byte(data)) {
				return fmt.Errorf("invalid JSON in --data")
			}
			req.Data = json.RawMessage(data)
		}

		job, err := apiClient.CreateJob(context.Background(), req)
		if err != nil {
			return fmt.Errorf("error enqueueing job: %w", err)
		}

		fmt.Printf("Enqueued job %d (type=%s, priority=%d)\n", job.ID, job.Type, job.Priority)
		return nil
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		jobType, _ := cmd.Flags().GetString("type")

		jobs, err := apiClient.GetJobs(context.Background(), status, jobType, limit)
		if err != nil {
			return fmt.Errorf("error fetching jobs: %w", err)
		}

		prettyJSON, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return fmt.Errorf("error formatting response: %w", err)
		}
		fmt.Println(string(prettyJSON))
		return nil
	},
}

var jobStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-status job counts",
	RunE: func(_ *cobra.Command, _ []string) error {
		stats, err := apiClient.GetJobStats(context.Background())
		if err != nil {
			return fmt.Errorf("error fetching job stats: %w", err)
		}

		prettyJSON, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("error formatting response: %w", err)
		}
		fmt.Println(string(prettyJSON))
		return nil
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or active job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}

		if err := apiClient.CancelJob(context.Background(), uint(id)); err != nil {
			return fmt.Errorf("error cancelling job: %w", err)
		}

		fmt.Printf("Cancelled job %d\n", id)
		return nil
	},
}
