package main

import (
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot modules and serve HTTP",
	Long: `Boot every module and serve the compiled routes.

The server will:
  - Load configuration from modhost.yaml (or --config)
  - Or load configuration from MODHOST_* environment variables
  - Take every module through its lifecycle
  - Serve the compiled route table until SIGINT or SIGTERM

Environment variables:
  MODHOST_SERVER_PORT      - Server port (default: 8080)
  MODHOST_LOG_LEVEL        - Log level: debug, info, warn, error
  MODHOST_SESSION_DRIVER   - memory, sqlite or redis
  MODHOST_JWT_SECRET       - Secret for bearer tokens

Examples:
  modhost serve
  modhost serve --config /etc/modhost/modhost.yaml
  modhost serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := newApp(hotReload)
	if err != nil {
		return err
	}
	return app.Run(cmd.Context(), "", nil)
}
