package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List session usage logs",
	Long:  "Lists the persisted per-session token usage documents, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := renderStats(filepath.Join(workspace, cfg.Session.LogDir))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func renderStats(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "No session usage logs yet.\n", nil
	}
	if err != nil {
		return "", fmt.Errorf("read usage dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "No session usage logs yet.\n", nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var b strings.Builder
	fmt.Fprintf(&b, "%d session log(s) in %s:\n", len(names), dir)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String(), nil
}
