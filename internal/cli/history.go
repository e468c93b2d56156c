package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/credmux/credmux/internal/config"
	"github.com/credmux/credmux/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var configPath string
	var limit int
	var counts bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pool events",
		Long:  "Reads the local event log and prints recent pool lifecycle events,\nnewest first, as JSON lines.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			hist, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("opening history: %w", err)
			}
			defer hist.Close()

			if counts {
				return printEventCounts(hist)
			}

			events, err := hist.Recent(limit)
			if err != nil {
				return fmt.Errorf("reading history: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to TOML config file (default: built-in defaults)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events to show")
	cmd.Flags().BoolVar(&counts, "counts", false, "Print per-event totals instead of individual events")

	return cmd
}

func printEventCounts(hist *history.Store) error {
	byEvent, err := hist.CountByEvent()
	if err != nil {
		return fmt.Errorf("counting events: %w", err)
	}

	names := make([]string, 0, len(byEvent))
	for name := range byEvent {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%s\t%d\n", name, byEvent[name])
	}
	return nil
}
