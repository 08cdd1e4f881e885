package main

import (
	"fmt"
	"os"

	"github.com/artpar/convey/bootstrap"
	"github.com/artpar/convey/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the convey HTTP server.

The server will:
  - Load configuration from convey.yaml (or --config)
  - Or load configuration from CONVEY_* environment variables
  - Open the database and create a table per model
  - Assemble the application and serve it

With --hot-reload (the default) logging settings follow edits to the
config file and SIGHUP. Other settings require a restart.

Environment variables (for Docker deployments):
  CONVEY_APP_ROOT           - Directory holding the application
  CONVEY_APP_NAME           - Application directory name (default: app)
  CONVEY_DATABASE_DSN       - Database path (default: convey.db)
  CONVEY_SERVER_PORT        - Server port (default: 8080)
  CONVEY_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  convey serve
  convey serve --config /etc/convey/config.yaml
  convey serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of logging settings")
}

func runServe(cmd *cobra.Command, args []string) error {
	var (
		app *bootstrap.App
		err error
	)

	_, statErr := os.Stat(cfgFile)
	hasConfigFile := statErr == nil

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file.
		holder, herr := config.NewHolder(cfgFile, zerolog.Nop())
		if herr != nil {
			return fmt.Errorf("error loading config: %w", herr)
		}
		app, err = bootstrap.New(nil, bootstrap.Options{Holder: holder, Version: version})
	} else {
		cfg, loadErr := loadConfig()
		if loadErr != nil {
			return loadErr
		}
		if !hasConfigFile {
			fmt.Fprintln(cmd.OutOrStdout(), "Running with environment variables (no config file)")
		}
		app, err = bootstrap.New(cfg, bootstrap.Options{Version: version})
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
