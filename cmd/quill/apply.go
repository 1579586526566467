package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/feature"
	"quill/internal/fix"
	"quill/internal/tweak"
)

var applyCmd = &cobra.Command{
	Use:   "apply [flags] <tweak-id> <file>",
	Short: "Apply a tweak at a position",
	Long: `Prepare and apply one tweak at the selection. Edits are printed as the
resulting file unless --write is given; message effects are printed as is.`,
	Args: cobra.ExactArgs(2),
	RunE: runApply,
}

func init() {
	addSelectionFlags(applyCmd)
	applyCmd.Flags().BoolP("write", "w", false, "write the result back to the file")
}

func runApply(cmd *cobra.Command, args []string) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	id, path := args[0], args[1]
	s, err := readSelectionArgs(cmd)
	if err != nil {
		return err
	}
	write, err := cmd.Flags().GetBool("write")
	if err != nil {
		return fmt.Errorf("failed to get write flag: %w", err)
	}

	sel, err := loadSelection(cmd.Context(), a, path, s)
	if err != nil {
		return err
	}
	eff, err := a.registry.Apply(cmd.Context(), id, sel)
	switch {
	case errors.Is(err, feature.ErrUnknownTweak):
		return fmt.Errorf("no tweak %q is registered (see `quill modules`)", id)
	case errors.Is(err, tweak.ErrUnavailable):
		return fmt.Errorf("tweak %s is not available at %s:%d:%d", id, path, s.line, s.col)
	case err != nil:
		return err
	}

	if !eff.IsEdit() {
		fmt.Fprintln(cmd.OutOrStdout(), eff.Message)
		return nil
	}
	file := sel.File()
	if write && file.Flags&normalizedFlags != 0 {
		return fmt.Errorf("%s has CRLF line endings or a BOM; refusing to write edits", path)
	}
	content, err := fix.ApplyEdits(file.Content, eff.Edits)
	if err != nil {
		return fmt.Errorf("apply %s: %w", id, err)
	}
	if !write {
		_, err = cmd.OutOrStdout().Write(content)
		return err
	}
	if err := fix.WriteFile(path, content); err != nil {
		return err
	}
	if eff.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), eff.Message)
	}
	if !a.quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: applied %s (%d edit(s))\n", displayPath(path), id, len(eff.Edits))
	}
	return nil
}
