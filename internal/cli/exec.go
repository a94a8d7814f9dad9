package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Cadence/internal/scheduler"
)

// NewExecCmd создаёт группу команд для управления executions.
func NewExecCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "exec",
		Aliases: []string{"execution"},
		Short:   "Manage flow executions",
	}

	cmd.AddCommand(
		newExecStartCmd(clientFn, outputFn),
		newExecListCmd(clientFn, outputFn),
		newExecShowCmd(clientFn, outputFn),
		newExecStagesCmd(clientFn, outputFn),
		newExecEvaluationsCmd(clientFn, outputFn),
		newExecStateCmd("pause", "Pause an execution", clientFn, outputFn),
		newExecStateCmd("resume", "Resume a paused execution", clientFn, outputFn),
		newExecStateCmd("cancel", "Cancel an execution", clientFn, outputFn),
	)

	return cmd
}

var execHeaders = []string{"ID", "FLOW_ID", "STATE", "CONTACTS", "NEXT_NODE", "DUE", "CREATED"}

func execRow(e *ExecutionResponse) []string {
	return []string{
		e.ID,
		e.FlowID,
		e.State,
		strconv.Itoa(e.Contacts),
		dash(e.NextNode),
		dash(e.NextNodeDueAt),
		e.CreatedAt,
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// resolveStart вычисляет время старта из --at или --cron.
// Без обоих флагов возвращает nil: сервер стартует немедленно.
func resolveStart(at, cronExpr, tz string, now time.Time) (*time.Time, error) {
	switch {
	case at != "" && cronExpr != "":
		return nil, errors.New("--at and --cron are mutually exclusive")
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at value %q: expected RFC3339", at)
		}
		return &t, nil
	case cronExpr != "":
		t, err := scheduler.NextStart(cronExpr, now, tz)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, nil
}

func splitContacts(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func newExecStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var contacts, at, cronExpr, tz string

	cmd := &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Start a flow for a set of contacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			ids := splitContacts(contacts)
			if len(ids) == 0 {
				return errors.New("--contacts must list at least one contact ID")
			}

			startAt, err := resolveStart(at, cronExpr, tz, time.Now())
			if err != nil {
				return err
			}

			exec, err := clientFn().RunFlow(args[0], RunFlowRequest{ContactIDs: ids, StartAt: startAt})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution started: %s", exec.ID))
			out.Print(execHeaders, [][]string{execRow(exec)}, exec)
			return nil
		},
	}

	cmd.Flags().StringVar(&contacts, "contacts", "", "Comma-separated contact IDs (required)")
	cmd.Flags().StringVar(&at, "at", "", "Start time in RFC3339")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Start at the next fire time of a cron expression")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "Timezone for --cron")
	cmd.MarkFlagRequired("contacts")

	return cmd
}

func newExecListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListExecutionsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := clientFn().ListExecutions(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(execs))
			for i := range execs {
				rows[i] = execRow(&execs[i])
			}

			outputFn().Print(execHeaders, rows, execs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "Filter by flow ID")
	cmd.Flags().StringVar(&opts.State, "state", "", "Filter by state")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Max results")

	return cmd
}

func newExecShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show execution progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clientFn().GetProgress(args[0])
			if err != nil {
				return err
			}

			e := p.Execution
			outputFn().KeyValues([][2]string{
				{"ID", e.ID},
				{"Flow", e.FlowID},
				{"State", e.State},
				{"Contacts", strconv.Itoa(e.Contacts)},
				{"Current node", e.CurrentNode},
				{"Next node", e.NextNode},
				{"Next due", e.NextNodeDueAt},
				{"Error", e.Error},
				{"Stages", formatCounts(p.StageCounts)},
				{"Placeholders", strconv.Itoa(p.Placeholder)},
				{"Sent", strconv.Itoa(p.Sent)},
				{"Failed", strconv.Itoa(p.Failed)},
				{"Cost units", strconv.Itoa(p.CostUnits)},
				{"Evaluations", strconv.Itoa(len(p.Evaluations))},
			}, p)
			return nil
		},
	}
}

func formatCounts(counts map[string]int) string {
	order := []string{"pending", "executing", "completed", "failed"}
	var parts []string
	for _, state := range order {
		if n := counts[state]; n > 0 {
			parts = append(parts, state+"="+strconv.Itoa(n))
		}
	}
	return strings.Join(parts, " ")
}

func newExecStagesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stages ID",
		Short: "List execution stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := clientFn().ListStages(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "NODE", "KIND", "STATE", "CONTACTS", "DUE", "SENT", "FAILED"}
			rows := make([][]string, len(stages))
			for i, s := range stages {
				due := "-"
				if s.DueAt != nil {
					due = s.DueAt.UTC().Format(time.RFC3339)
				}
				state := string(s.State)
				if s.Placeholder {
					state += " (planned)"
				}
				rows[i] = []string{
					s.ID.String(),
					s.NodeID,
					string(s.NodeKind),
					state,
					strconv.Itoa(len(s.ContactIDs)),
					due,
					strconv.Itoa(s.SentCount),
					strconv.Itoa(s.FailedCount),
				}
			}

			outputFn().Print(headers, rows, stages)
			return nil
		},
	}
}

func newExecEvaluationsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluations ID",
		Short: "List condition evaluations of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evals, err := clientFn().ListEvaluations(args[0])
			if err != nil {
				return err
			}

			headers := []string{"CONDITION", "RULE", "YES", "NO", "RESULT"}
			rows := make([][]string, len(evals))
			for i, ev := range evals {
				rows[i] = []string{
					ev.ConditionID,
					ev.MetricParam + " " + ev.Operator + " " + ev.Threshold,
					strconv.Itoa(ev.YesCount),
					strconv.Itoa(ev.NoCount),
					string(ev.Result),
				}
			}

			outputFn().Print(headers, rows, evals)
			return nil
		},
	}
}

func newExecStateCmd(action, short string, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			exec, err := clientFn().ChangeState(args[0], action)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Execution %s: %s", exec.ID, exec.State))
			out.Print(execHeaders, [][]string{execRow(exec)}, exec)
			return nil
		},
	}
}
