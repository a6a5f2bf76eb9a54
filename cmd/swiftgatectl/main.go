package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/swiftgate/internal/config"
	"github.com/danmuck/swiftgate/internal/logging"
	"github.com/danmuck/swiftgate/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

const (
	envConfigPath     = "SWIFTGATE_CONFIG"
	defaultConfigPath = "cmd/swiftgatectl/config.toml"
)

func main() {
	_ = godotenv.Load()
	logging.ConfigureRuntime()
	observability.InitLogger("swiftgatectl")

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "swiftgatectl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "swiftgatectl",
		Short:         "Payment messaging gateway over newline-framed TCP",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default $"+envConfigPath+" or "+defaultConfigPath+")")

	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(configCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); strings.TrimSpace(p) != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads the config file, falling back to defaults only when the
// default path is absent.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath(cmd)
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.Load(path)
}
