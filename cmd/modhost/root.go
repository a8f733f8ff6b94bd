package main

import (
	"fmt"
	"os"

	"github.com/artpar/modhost/bootstrap"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modhost",
	Short: "Module host for composable HTTP applications",
	Long: `modhost boots a set of modules, compiles their routes into one
dispatch table and serves it over HTTP.

Quick start:
  modhost serve              # Boot modules and serve
  modhost routes             # Print the compiled route table
  modhost task notes:purge   # Run a module task

Management:
  modhost keys create ci     # Generate an API key
  modhost token --role=editor
  modhost validate           # Validate configuration`,
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
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", bootstrap.DefaultConfigPath, "config file path")
}

func newApp(watch bool) (*bootstrap.App, error) {
	return bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
		Watch:      watch,
	})
}
