package cli

import (
	"github.com/spf13/cobra"
)

// newAnalyzeCmd creates the analyze command.
func newAnalyzeCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "analyze <name[@constraint]>...",
		Short: "Analyze package versions and their dependency closure",
		Long: `Analyze resolves each package spec against the registry index, fetches
and extracts the matching archives, builds call graphs from their compiled
IR artifacts and ingests the linked result into the graph store. The
dependency closure of every spec is analyzed as well.

A spec is a package name with an optional semver constraint:

    cratemap analyze serde
    cratemap analyze serde@1.0.200 tokio@^1.40`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := parseSpecs(args)
			if err != nil {
				return err
			}
			return runAnalysis(cmd, flags, specs)
		},
	}

	flags.register(cmd)
	return cmd
}
