package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/chonky"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update the workspace to the manifest",
	Long: `Fetch files the manifest added or changed and delete files it removed.
Local changes are kept. Conflicts abort the sync unless --force is given,
in which case the remote version wins.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("force", false, "overwrite conflicted files with the remote version")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	out := cmd.OutOrStdout()

	return forEachWorkspace(cmd, func(ctx context.Context, c *chonky.Client, root string) error {
		printHeader(out, root)
		res, err := c.Sync(ctx, force)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if len(res.Fetched) == 0 && len(res.Removed) == 0 {
			fmt.Fprintln(out, "Workspace is up to date with the remote.")
			return nil
		}
		for _, p := range res.Fetched {
			fmt.Fprintf(out, "  fetched  %s\n", p)
		}
		for _, p := range res.Removed {
			fmt.Fprintf(out, "  removed  %s\n", p)
		}
		return nil
	})
}
