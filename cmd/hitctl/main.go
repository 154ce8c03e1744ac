// Command hitctl administers a running hitme server over its control socket
// and opens interactive sessions against the TCP port.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "HITME"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hitctl",
		Short:        "Manage a hitme server",
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("control-socket", "/tmp/hitme.sock", "Server control socket.")
	cmd.PersistentFlags().String("addr", "127.0.0.1:3215", "Server TCP address for connect.")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("control_socket", cmd.PersistentFlags().Lookup("control-socket"))
	_ = viper.BindPFlag("addr", cmd.PersistentFlags().Lookup("addr"))

	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newShutdownCmd())
	cmd.AddCommand(newConnectCmd())

	return cmd
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}
