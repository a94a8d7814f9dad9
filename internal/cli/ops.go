package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTickCmd создаёт команду ручного тика планировщика.
func NewTickCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().Tick()
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"DUE", "ADVANCED", "SKIPPED", "FAILED", "REQUEUED"},
				[][]string{{
					strconv.Itoa(res.Due),
					strconv.Itoa(res.Advanced),
					strconv.Itoa(res.Skipped),
					strconv.Itoa(res.Failed),
					strconv.Itoa(res.Requeued),
				}},
				res,
			)
			return nil
		},
	}
}

// NewChannelCmd создаёт группу команд для каналов доставки.
func NewChannelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Inspect delivery channels",
	}

	printStatus := func(out *Output, st *ChannelResponse) {
		window := func(w WindowResponse) string {
			if w.Cap == 0 {
				return strconv.FormatInt(w.Used, 10) + "/-"
			}
			return strconv.FormatInt(w.Used, 10) + "/" + strconv.Itoa(w.Cap)
		}
		out.KeyValues([][2]string{
			{"Channel", st.Channel},
			{"Breaker", st.Breaker.State},
			{"Failures", fmt.Sprintf("%d/%d", st.Breaker.Failures, st.Breaker.Threshold)},
			{"Opened at", st.Breaker.OpenedAt},
			{"Reopens at", st.Breaker.ReopensAt},
			{"Per second", window(st.RateLimit.Second)},
			{"Per minute", window(st.RateLimit.Minute)},
			{"Per hour", window(st.RateLimit.Hour)},
		}, st)
	}

	status := &cobra.Command{
		Use:   "status CHANNEL",
		Short: "Show breaker and rate limit state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := clientFn().ChannelStatus(args[0])
			if err != nil {
				return err
			}
			printStatus(outputFn(), st)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset CHANNEL",
		Short: "Close the channel breaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			st, err := clientFn().ResetBreaker(args[0])
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Breaker reset: %s", st.Channel))
			printStatus(out, st)
			return nil
		},
	}

	cmd.AddCommand(status, reset)
	return cmd
}

// NewJobCmd создаёт группу команд для журнала задач.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect the job journal",
	}

	headers := []string{"ID", "KIND", "EXECUTION", "STATE", "ATTEMPTS", "ERROR"}
	row := func(j *JobResponse) []string {
		return []string{
			j.ID,
			j.Kind,
			j.ExecutionID,
			j.State,
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
			dash(j.Error),
		}
	}

	var opts ListJobsOpts
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := clientFn().ListJobs(opts)
			if err != nil {
				return err
			}
			rows := make([][]string, len(jobs))
			for i := range jobs {
				rows[i] = row(&jobs[i])
			}
			outputFn().Print(headers, rows, jobs)
			return nil
		},
	}
	list.Flags().StringVar(&opts.State, "state", "", "Filter by state")
	list.Flags().StringVar(&opts.Kind, "kind", "", "Filter by kind")
	list.Flags().IntVar(&opts.Limit, "limit", 0, "Max results")

	retry := &cobra.Command{
		Use:   "retry ID",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			job, err := clientFn().RetryJob(args[0])
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Job requeued: %s", job.ID))
			out.Print(headers, [][]string{row(job)}, job)
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := clientFn().ClearFailedJobs()
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Deleted %d failed jobs", n))
			return nil
		},
	}

	cmd.AddCommand(list, retry, clear)
	return cmd
}
