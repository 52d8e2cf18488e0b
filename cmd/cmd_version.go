package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionCmd creates the version command
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and build details",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(BuildDetails())
		},
	}
}

// BuildDetails returns the version string baked in at build time
func BuildDetails() string {
	if version == "" {
		return "docrel (unversioned build)"
	}
	return fmt.Sprintf("docrel %s (%s) built %s", version, commit, date)
}
