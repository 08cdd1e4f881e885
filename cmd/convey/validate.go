package main

import (
	"fmt"
	"os"

	apihttp "github.com/artpar/convey/adapters/http"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and modules before deployment",
	Long: `Validate the convey configuration and the application it points at.

Checks:
  - Config file syntax and values
  - Every module loads and has a recognised shape
  - Admin descriptors link to models
  - No route is registered twice or shadowed by a host endpoint

Examples:
  convey validate
  convey validate --strict --config /etc/convey/config.yaml`,
	RunE: runValidate,
}

var validateStrict bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "fail when any warning is raised")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintf(out, "  %s Config file not found, using environment\n", crossMark)
	} else {
		fmt.Fprintf(out, "  %s Config file exists\n", checkMark)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return err
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)
	fmt.Fprintf(out, "  %s Application: %s/%s\n", checkMark, cfg.App.Root, cfg.App.Name)

	app, err := assembleDry(cfg)
	if err != nil {
		fmt.Fprintf(out, "  %s Application assembled\n", crossMark)
		return err
	}
	fmt.Fprintf(out, "  %s Application assembled: %d routes, %d models, %d admin descriptors\n",
		checkMark, app.Routes.Len(), app.Models.Len(), len(app.Descriptors))

	warnings := len(app.Warnings)
	for _, w := range app.Warnings {
		fmt.Fprintf(out, "  %s %s\n", crossMark, w.Error())
	}
	for _, p := range apihttp.Shadowed(app.Routes) {
		fmt.Fprintf(out, "  %s %s is shadowed by a host endpoint\n", crossMark, p)
		warnings++
	}

	fmt.Fprintln(out)
	if warnings == 0 {
		fmt.Fprintln(out, "Application is valid.")
		return nil
	}
	fmt.Fprintf(out, "%d warning(s).\n", warnings)
	if validateStrict {
		return fmt.Errorf("validation failed with %d warning(s)", warnings)
	}
	return nil
}
