package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/chonky"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Upload local changes and update the manifest",
	Long: `Upload added and modified files to the store, then write the new HEAD to
the manifest. Commit the manifest to version control afterwards.`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	return forEachWorkspace(cmd, func(ctx context.Context, c *chonky.Client, root string) error {
		printHeader(out, root)
		res, err := c.Submit(ctx)
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		if len(res.Uploaded)+len(res.Skipped)+len(res.Removed) == 0 {
			fmt.Fprintln(out, "Workspace has no changes to submit.")
			return nil
		}
		for _, p := range res.Uploaded {
			fmt.Fprintf(out, "  uploaded %s\n", p)
		}
		for _, p := range res.Skipped {
			fmt.Fprintf(out, "  stored   %s\n", p)
		}
		for _, p := range res.Removed {
			fmt.Fprintf(out, "  removed  %s\n", p)
		}
		return nil
	})
}
