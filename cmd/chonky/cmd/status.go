package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aweris/chonky"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local and remote changes",
	Long:  "Compare the workspace with the manifest and report what sync and submit would do.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

type statusEntry struct {
	Path      string `json:"path" yaml:"path"`
	Status    string `json:"status" yaml:"status"`
	Manifest  string `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Base      string `json:"base,omitempty" yaml:"base,omitempty"`
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

type workspaceStatus struct {
	Workspace string        `json:"workspace" yaml:"workspace"`
	Entries   []statusEntry `json:"entries" yaml:"entries"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	out := cmd.OutOrStdout()
	var all []workspaceStatus

	err := forEachWorkspace(cmd, func(ctx context.Context, c *chonky.Client, root string) error {
		report, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if format == "text" {
			printHeader(out, root)
			printStatus(out, report)
			return nil
		}
		all = append(all, toWorkspaceStatus(root, report))
		return nil
	})
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(all)
	}
	return nil
}

func toWorkspaceStatus(root string, report *chonky.Report) workspaceStatus {
	ws := workspaceStatus{Workspace: root, Entries: []statusEntry{}}
	for _, e := range report.Entries {
		if e.Status == chonky.StatusUnmodified {
			continue
		}
		entry := statusEntry{Path: e.Path, Status: string(e.Status)}
		if !e.Manifest.IsZero() {
			entry.Manifest = e.Manifest.String()
		}
		if !e.Base.IsZero() {
			entry.Base = e.Base.String()
		}
		if !e.Workspace.IsZero() {
			entry.Workspace = e.Workspace.String()
		}
		if e.Err != nil {
			entry.Error = e.Err.Error()
		}
		ws.Entries = append(ws.Entries, entry)
	}
	return ws
}

var (
	incoming = []chonky.Status{
		chonky.StatusMissingLocally,
		chonky.StatusChangedRemotely,
		chonky.StatusRemovedRemotely,
		chonky.StatusRemoteMissing,
	}
	outgoing = []chonky.Status{
		chonky.StatusAddedLocally,
		chonky.StatusModifiedLocally,
		chonky.StatusDeletedLocally,
	}
)

func printStatus(w io.Writer, report *chonky.Report) {
	if broken := report.Filter(chonky.StatusAccessError); len(broken) > 0 {
		fmt.Fprintln(w, "Some files could not be read:")
		for _, e := range broken {
			fmt.Fprintf(w, "  %s: %v\n", e.Path, e.Err)
		}
	}

	if conflicts := report.Paths(chonky.StatusConflicted); len(conflicts) > 0 {
		fmt.Fprintln(w, "Conflicts must be resolved before you can sync or submit:")
		for _, p := range conflicts {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}

	if changes := report.Filter(incoming...); len(changes) > 0 {
		fmt.Fprintln(w, "Remote changes are available, run “chonky sync” to update:")
		printEntries(w, changes)
	} else {
		fmt.Fprintln(w, "Workspace is up to date with the remote.")
	}

	if changes := report.Filter(outgoing...); len(changes) > 0 {
		fmt.Fprintln(w, "Workspace has changes:")
		printEntries(w, changes)
	} else {
		fmt.Fprintln(w, "Workspace has no changes to submit.")
	}
}

func printEntries(w io.Writer, entries []chonky.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "  %-16s %s\n", e.Status, e.Path)
	}
}
