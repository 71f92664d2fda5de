package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/shapeschat/internal/logger"
	"github.com/comigor/shapeschat/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve personas and conversations as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol
		logger.SetOutput(os.Stderr)

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return mcpserver.Serve(mcpserver.NewTools(a.personas, a.sessions))
	},
}
