package main

import (
	"fmt"
	"os"

	"github.com/artpar/convey/bootstrap"
	"github.com/artpar/convey/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "convey",
	Short: "Serve an application assembled from a directory of modules",
	Long: `convey turns a directory of YAML modules into an HTTP application.

Models become tables, controllers become routes and admin descriptors
become a navigation tree with generated admin routes.

Layout:
  <root>/<app>/models/       model definitions
  <root>/<app>/controllers/  route handlers, URL inferred from the path
  <root>/<app>/admin/        admin descriptors linked to models

Commands:
  convey serve      # Start the server
  convey routes     # Print the route table
  convey tree       # Print the admin navigation tree
  convey validate   # Check configuration and modules`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	def := os.Getenv(bootstrap.EnvConfigPath)
	if def == "" {
		def = "convey.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", def, "config file path")
}

// loadConfig reads the config file, falling back to CONVEY_* variables when
// it does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
