package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Cadence/internal/engine"
)

// NewFlowCmd создаёт группу команд для управления flows.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowCreateCmd(clientFn, outputFn),
		newFlowGetCmd(clientFn, outputFn),
	)

	return cmd
}

func flowRow(f *FlowResponse) []string {
	return []string{
		f.ID,
		f.Name,
		strconv.FormatBool(f.IsActive),
		strconv.Itoa(len(f.Graph.Stages)),
		strconv.Itoa(len(f.Graph.Conditions)),
		f.CreatedAt,
	}
}

var flowHeaders = []string{"ID", "NAME", "ACTIVE", "STAGES", "CONDITIONS", "CREATED"}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := clientFn().ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			outputFn().Print(flowHeaders, rows, flows)
			return nil
		},
	}
}

func newFlowCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var inactive bool

	cmd := &cobra.Command{
		Use:   "create -f FILE",
		Short: "Create a flow from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read flow file: %w", err)
			}
			doc, err := engine.ParseFlowDocument(data)
			if err != nil {
				return err
			}

			req := CreateFlowRequest{
				Name:        doc.Name,
				Description: doc.Description,
				Graph:       doc.Graph,
			}
			if inactive {
				active := false
				req.IsActive = &active
			}

			flow, err := clientFn().CreateFlow(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow created: %s", flow.ID))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Flow definition file (required)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the flow inactive")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newFlowGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "get ID",
		Aliases: []string{"show"},
		Short:   "Show flow details",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := clientFn().GetFlow(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}
}
