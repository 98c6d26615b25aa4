package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtrntr/marketplace/internal/version"
)

// VersionCmd prints build information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
