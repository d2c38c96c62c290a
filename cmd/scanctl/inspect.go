package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/app"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List threat intel sources and model chains from the local configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close(cmd.Context())
			return printSources(cmd.OutOrStdout(), engine)
		},
	}
}

func printSources(w io.Writer, engine *app.App) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTIER\tTIMEOUT\tENABLED")
	for _, s := range engine.Registry.All() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", s.ID, s.Tier, s.Timeout, s.Enabled)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	paths := make([]string, 0, len(engine.Chains))
	for p := range engine.Chains {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(w, "\nchain %s:", p)
		for i, b := range engine.Chains[entity.ScanPath(p)].Backends() {
			fmt.Fprintf(w, " %d=%s", i, b)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func newRolloutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Inspect the rollout configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved rollout snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer engine.Close(cmd.Context())

			snap, err := engine.Rollout.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	})
	return cmd
}
