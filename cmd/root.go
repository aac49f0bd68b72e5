package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the slate-service application.
// It is the entry point when the binary is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "slate-service",
	Short: "SLATE API server",
	Long: `slate-service is the SLATE API server: the control plane research groups
use to deploy applications across federated Kubernetes clusters. It fronts
a persistent catalog of users, groups, clusters, application instances and
secrets, and reaches clusters exclusively through helm and kubectl under
stored kubeconfigs.

When run without subcommands, it starts the API server (equivalent to
'slate-service serve').`,
	// SilenceUsage keeps handled errors from being followed by the usage
	// message.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application. Called by
// main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "slate-service version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		// Cobra already printed the error; exit non-zero to report it.
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newServeCmd())
}
