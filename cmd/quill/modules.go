package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List installed feature modules and their tweaks",
	Args:  cobra.NoArgs,
	RunE:  runModules,
}

func init() {
	modulesCmd.Flags().Bool("json", false, "print the list as JSON")
}

type moduleJSON struct {
	Name     string   `json:"name"`
	Tweaks   []string `json:"tweaks"`
	Listener bool     `json:"listener"`
	LSP      bool     `json:"lsp"`
}

type modulesJSON struct {
	Config      string       `json:"config,omitempty"`
	Fingerprint string       `json:"fingerprint"`
	Modules     []moduleJSON `json:"modules"`
}

func runModules(cmd *cobra.Command, _ []string) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}

	infos := a.registry.Describe()
	if asJSON {
		out := modulesJSON{Config: a.cfg.Path, Fingerprint: a.registry.Fingerprint(), Modules: make([]moduleJSON, 0, len(infos))}
		for _, info := range infos {
			tweaks := info.Tweaks
			if tweaks == nil {
				tweaks = []string{}
			}
			out.Modules = append(out.Modules, moduleJSON{Name: info.Name, Tweaks: tweaks, Listener: info.Listener, LSP: info.LSP})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no modules installed")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tTWEAKS\tLISTENER\tLSP")
	for _, info := range infos {
		tweaks := strings.Join(info.Tweaks, ",")
		if tweaks == "" {
			tweaks = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, tweaks, yesNo(info.Listener), yesNo(info.LSP))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
