package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/artpar/modhost/core/routing"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the compiled route table",
	Long: `Boot every module and print the compiled routes in dispatch order.

Examples:
  modhost routes
  modhost routes --config /etc/modhost/modhost.yaml`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	app, err := newApp(false)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.Boot(cmd.Context(), "", nil); err != nil {
		return err
	}
	return printRoutes(cmd.OutOrStdout(), app.Runtime.Table())
}

func printRoutes(out io.Writer, table *routing.Table) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tMETHOD\tURL\tMODULE\tSECTION\tNAME")
	for _, r := range table.Routes() {
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Position, r.Method, r.URL, r.Module, r.Kind, name)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d routes\n", table.Len())
	return nil
}
