package cmd

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

// githubRepoSlug is the GitHub repository releases are published under.
const githubRepoSlug = "slateci/slate-api-server"

// newSelfUpdateCmd creates the Cobra command for replacing the running
// binary with the latest published release.
func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selfupdate",
		Short: "Update slate-service to the latest version",
		Long: `Checks GitHub for the latest release of slate-service and, when the
running binary is older, downloads the release asset for this platform
and replaces the binary in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return selfUpdate(cmd.Context(), rootCmd.Version, cmd.OutOrStdout())
		},
	}
}

// selfUpdate performs the update. Development builds carry no release
// version to compare against and are refused.
func selfUpdate(ctx context.Context, version string, out io.Writer) error {
	if version == "" || version == "dev" {
		return fmt.Errorf("cannot self-update a development version (%q); install a released build first", version)
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(githubRepoSlug))
	if err != nil {
		return fmt.Errorf("detecting latest release: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	if latest.LessOrEqual(version) {
		_, _ = fmt.Fprintf(out, "Current version %s is the latest\n", version)
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("updating binary: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Successfully updated to version %s\n", latest.Version())
	return nil
}
