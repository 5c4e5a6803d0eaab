// Runs an ActivityPub node and the tools that go with it.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tkrehbiel/activitycore/server"
	"github.com/tkrehbiel/activitycore/server/telemetry"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "activitycore",
		Short: "ActivityPub federation node",
		Long: `Serves local actors to the fediverse: discovery, inboxes, outboxes and
signed delivery of their activities to followers.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			telemetry.SetLogger(telemetry.NewLogger(verbose))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			telemetry.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.toml", "config file path, TOML or JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		keygenCmd(),
		fetchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (server.Config, error) {
	cfg, err := server.LoadConfig(configFile)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
