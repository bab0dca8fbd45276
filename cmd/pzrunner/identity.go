package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the identity this runner would announce",
	Run: func(cmd *cobra.Command, args []string) {
		id := detectIdentity()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "worker-id: %s\n", id.WorkerID)
		fmt.Fprintf(out, "cpu:       %s\n", id.CPUBrand)
		fmt.Fprintf(out, "cores:     %d\n", id.Cores)
	},
}
