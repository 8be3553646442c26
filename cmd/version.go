package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("matrix-aibot build %s\n", build)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
