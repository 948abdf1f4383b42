package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	ConvergeVersion, ConvergeCommit, ConvergeDate string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Display version, commit hash, build date, and other build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("convergectl version: %s\n", ConvergeVersion)
		fmt.Printf("Commit: %s\n", ConvergeCommit)
		fmt.Printf("Built: %s\n", ConvergeDate)
	},
}

func init() {
	rootCommand.AddCommand(versionCommand)
}
