package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomline/internal/config"
	"github.com/BioHazard786/roomline/internal/ui"
	"github.com/BioHazard786/roomline/internal/version"
)

var flagConfig string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomline",
	Short: "Threaded chat and video rooms in your terminal",
	Long: `Roomline is a terminal client for shared chat threads and video rooms.

Threads and messages live in a shared store (Redis) so every client sees the
same conversation. Video rooms are WebRTC calls brokered by "roomline serve".`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default ./roomline.yaml)")
}

// LoadConfig reads configuration with opts layered over the config file.
func LoadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigFile = flagConfig
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, errRelayWithoutTURN
	}
	return cfg, nil
}
