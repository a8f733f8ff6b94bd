package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task <module>:<task> [args...]",
	Short: "Run a module task",
	Long: `Boot every module and run one task before modules become ready.

The module may be given by name or alias. Most tasks exit when done;
tasks that keep running continue to serve afterwards.

Examples:
  modhost task notes:purge
  modhost task note:seed "First note" "Second note"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	rootCmd.AddCommand(taskCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	app, err := newApp(false)
	if err != nil {
		return err
	}
	if err := app.Run(cmd.Context(), args[0], args[1:]); err != nil {
		return fmt.Errorf("task %s: %w", args[0], err)
	}
	return nil
}
