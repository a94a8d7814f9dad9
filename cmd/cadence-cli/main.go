// Cadence CLI — инструмент командной строки для flows, executions,
// каналов и журнала задач через HTTP API.
//
// Использование:
//
//	cadence-cli [--api-url URL] [-o table|json] <command> <subcommand> [flags]
//
// Команды:
//
//	flow      Управление flows
//	exec      Запуск и управление executions
//	tick      Ручной тик планировщика
//	channel   Состояние breaker и rate limiter
//	job       Журнал задач
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Cadence/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var output string

	rootCmd := &cobra.Command{
		Use:           "cadence-cli",
		Short:         "Cadence CLI — campaign flow engine client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("invalid --output %q: expected table or json", output)
			}
			return nil
		},
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("CADENCE_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table or json")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(output == "json") }

	rootCmd.AddCommand(
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewExecCmd(clientFn, outputFn),
		cli.NewTickCmd(clientFn, outputFn),
		cli.NewChannelCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
