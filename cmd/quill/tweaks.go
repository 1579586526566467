package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tweaksCmd = &cobra.Command{
	Use:   "tweaks [flags] <file>",
	Short: "List the tweaks available at a position",
	Args:  cobra.ExactArgs(1),
	RunE:  runTweaks,
}

func init() {
	addSelectionFlags(tweaksCmd)
	tweaksCmd.Flags().Bool("json", false, "print the list as JSON")
}

type tweakJSON struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	Preferred bool   `json:"preferred,omitempty"`
}

func runTweaks(cmd *cobra.Command, args []string) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	s, err := readSelectionArgs(cmd)
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}

	sel, err := loadSelection(cmd.Context(), a, args[0], s)
	if err != nil {
		return err
	}
	guards, err := a.registry.Available(cmd.Context(), sel)
	if err != nil {
		return err
	}

	// Tweaks a diagnostic under the selection asked for come first in the
	// editor; mark them the same way here.
	preferred := make(map[string]bool)
	for _, d := range sel.Diagnostics() {
		for _, id := range d.Actions {
			preferred[id] = true
		}
	}

	items := make([]tweakJSON, 0, len(guards))
	for _, g := range guards {
		items = append(items, tweakJSON{ID: g.ID(), Title: g.Title(), Kind: string(g.Kind()), Preferred: preferred[g.ID()]})
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no tweaks available")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTITLE")
	for _, it := range items {
		id := it.ID
		if it.Preferred {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, it.Kind, it.Title)
	}
	return tw.Flush()
}
