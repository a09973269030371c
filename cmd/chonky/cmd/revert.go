package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aweris/chonky"
)

var errNotConfirmed = errors.New("revert not confirmed, pass --yes to skip the prompt")

var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Discard local changes",
	Long: `Restore modified and deleted files to the version last synced and delete
added files. The manifest is not changed.`,
	Args: cobra.NoArgs,
	RunE: runRevert,
}

func init() {
	revertCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(revertCmd)
}

func runRevert(cmd *cobra.Command, _ []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	out := cmd.OutOrStdout()

	return forEachWorkspace(cmd, func(ctx context.Context, c *chonky.Client, root string) error {
		printHeader(out, root)
		if !yes {
			if err := confirmRevert(root); err != nil {
				return err
			}
		}

		res, err := c.Revert(ctx)
		if err != nil {
			return fmt.Errorf("revert failed: %w", err)
		}
		if len(res.Restored)+len(res.Removed) == 0 {
			fmt.Fprintln(out, "Workspace has no changes to revert.")
			return nil
		}
		for _, p := range res.Restored {
			fmt.Fprintf(out, "  restored %s\n", p)
		}
		for _, p := range res.Removed {
			fmt.Fprintf(out, "  removed  %s\n", p)
		}
		return nil
	})
}

func confirmRevert(root string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errNotConfirmed
	}

	var ok bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Discard all local changes in %s?", root)).
		Affirmative("Revert").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return fmt.Errorf("confirmation cancelled: %w", err)
	}
	if !ok {
		return errNotConfirmed
	}
	return nil
}
