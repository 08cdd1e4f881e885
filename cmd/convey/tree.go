package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the admin navigation tree",
	Long: `Assemble the application and print the admin navigation tree built
from the admin descriptors.

Examples:
  convey tree
  convey tree --output json`,
	RunE: runTree,
}

var treeOutput string

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().StringVarP(&treeOutput, "output", "o", "yaml", "output format: json, yaml")
}

func runTree(cmd *cobra.Command, args []string) error {
	if treeOutput != "json" && treeOutput != "yaml" {
		return fmt.Errorf("unknown output format %q", treeOutput)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := assembleDry(cfg)
	if err != nil {
		return err
	}
	return encode(cmd.OutOrStdout(), treeOutput, app.Admin)
}
