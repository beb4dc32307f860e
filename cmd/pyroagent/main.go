// Command pyroagent runs the continuous profiling agent as a standalone
// process.
//
// # Usage
//
//	pyroagent run --server-address URL --application-name NAME [flags]
//	pyroagent schema
//	pyroagent version
//
// The run command profiles its own process and uploads a report to the
// ingestion service every ten seconds until it receives SIGINT or SIGTERM,
// or until --duration elapses. Combine it with --workload to generate CPU
// load worth profiling.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.jacobcolvin.com/pyroagent/agent"
	"go.jacobcolvin.com/pyroagent/version"
)

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pyroagent",
		Short:         "Continuously profile a process and ship the results",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(newRunCmd(), newSchemaCmd(), newVersionCmd())

	return rootCmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := agent.Schema()
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding schema: %w", err)
			}

			out = append(out, '\n')

			_, err = cmd.OutOrStdout().Write(out)
			if err != nil {
				return fmt.Errorf("writing schema: %w", err)
			}

			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), version.Info())
			if err != nil {
				return fmt.Errorf("writing version: %w", err)
			}

			return nil
		},
	}
}
