package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/danmuck/swiftgate/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the config file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default spelled out",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s (node %s, tcp %s, api %s)\n",
				path, cfg.NodeID, cfg.Gateway.ListenAddr, cfg.API.ListenAddr)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func splitHostPort(addr string) (string, int, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}
