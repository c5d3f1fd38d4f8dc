package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/wincat/internal/window"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List processes and their windows",
	Long: `List every process that owns a titled top-level window.

This is the same snapshot selector scripts receive. The main window of
each process is marked with an asterisk.`,
	Example: `  # List windows in table format (default)
  wincat list

  # List windows in JSON format, as passed to selector scripts
  wincat list --format json

  # Include invisible windows
  wincat list --all`,
	RunE: runList,
}

var (
	listFormat string
	listAll    bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include invisible windows")
}

// takeSnapshot connects to the platform window backend and takes one snapshot.
func takeSnapshot() (*window.Snapshot, error) {
	backend, err := window.NewPlatformBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to open window backend: %w", err)
	}
	defer backend.Close()

	if err := backend.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect window backend: %w", err)
	}
	windows, err := backend.ListWindows()
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	return window.BuildSnapshot(windows, time.Now()), nil
}

func runList(cmd *cobra.Command, args []string) error {
	snap, err := takeSnapshot()
	if err != nil {
		return err
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	case "table":
		return printSnapshotTable(snap, listAll)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printSnapshotTable(snap *window.Snapshot, all bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PID\tPROCESS\tHWND\tSIZE\tCLASS\tTITLE")
	fmt.Fprintln(w, "---\t-------\t----\t----\t-----\t-----")

	for _, p := range snap.Processes {
		for _, win := range p.Windows {
			if !win.Visible && !all {
				continue
			}
			mark := " "
			if p.Main != nil && p.Main.Handle == win.Handle {
				mark = "*"
			}
			fmt.Fprintf(w, "%d\t%s\t%s%s\t%dx%d\t%s\t%s\n",
				p.PID, p.Name, win.Handle, mark, win.Width, win.Height, win.ClassName, win.Title)
		}
	}

	return nil
}
