package commands

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	mcpsrv "perftrail/internal/mcp"
)

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Args:  cobra.NoArgs,
		Short: "Serve the perftrail tools over MCP on stdio",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s := server.NewMCPServer("perftrail-mcp", Version, server.WithToolCapabilities(false))
			mcpsrv.New(a.cards, a.analyzer, a.narrator, a.logger).RegisterTools(s)

			a.logger.Info("MCP server listening on stdio")
			return server.ServeStdio(s)
		},
	}
}
