package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/oxbow-systems/sluice/types"
)

// VersionCommand returns the version command. It never contacts a backend.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(*cli.Context) error {
			fmt.Printf("sluice %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
