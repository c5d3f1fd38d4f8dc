package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/wincat/internal/script"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Run a selector script once and print its choice",
	Long: `Run a selector script against a fresh window snapshot and print the
window it selects. Nothing is captured.

The script comes from --script, --file, or the named source in the config
file, in that order.`,
	Example: `  # Try an inline selector
  wincat select --script 'function(procs) return procs[1] and procs[1].main end'

  # Try a script file
  wincat select --file ~/selectors/game.lua

  # Check what a configured source would capture right now
  wincat select --source game`,
	RunE: runSelect,
}

var (
	selectScript string
	selectFile   string
	selectSource string
	selectFormat string
)

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVarP(&selectScript, "script", "s", "", "inline selector script")
	selectCmd.Flags().StringVar(&selectFile, "file", "", "selector script file")
	selectCmd.Flags().StringVar(&selectSource, "source", "", "use the script of this configured source")
	selectCmd.Flags().StringVarP(&selectFormat, "format", "f", "text", "output format (text or json)")
}

func resolveSelectScript() (string, error) {
	switch {
	case selectScript != "":
		return selectScript, nil
	case selectFile != "":
		data, err := os.ReadFile(selectFile)
		if err != nil {
			return "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), nil
	case selectSource != "":
		configMgr, err := loadConfig()
		if err != nil {
			return "", err
		}
		for _, sc := range configMgr.Get().Sources {
			if sc.Name == selectSource {
				return sc.ResolveScript(configMgr.Dir())
			}
		}
		return "", fmt.Errorf("source %q not found in %s", selectSource, configMgr.Path())
	default:
		return "", errors.New("one of --script, --file or --source is required")
	}
}

func runSelect(cmd *cobra.Command, args []string) error {
	src, err := resolveSelectScript()
	if err != nil {
		return err
	}

	engine := script.NewEngine("select", script.DefaultTimeout)
	defer engine.Close()
	if err := engine.Load(src); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	snap, err := takeSnapshot()
	if err != nil {
		return err
	}

	rec, err := engine.Select(context.Background(), snap)
	if err != nil {
		return fmt.Errorf("selector failed: %w", err)
	}

	if selectFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)
	}

	if rec == nil {
		fmt.Println("No window selected")
		return nil
	}
	fmt.Printf("HWND:     %s\n", rec.Handle)
	fmt.Printf("Title:    %s\n", rec.Title)
	fmt.Printf("Class:    %s\n", rec.ClassName)
	fmt.Printf("Visible:  %t\n", rec.Visible)
	fmt.Printf("Geometry: %dx%d at (%d, %d)\n", rec.Width, rec.Height, rec.X, rec.Y)
	return nil
}
