package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"threadcrawl/pkg/ui"
)

var quotaJSON bool

// quotaCmd represents the quota command
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the state of the request ledger",
	Long: `Show how many calls are left in the current quota window and when the
oldest recorded spend leaves the window. The ledger is shared by every run
that points at the same file.`,
	Args: cobra.NoArgs,
	RunE: runQuota,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.Flags().BoolVar(&quotaJSON, "json", false, "print the ledger state as JSON")
}

type quotaState struct {
	Ledger      string     `json:"ledger"`
	Ceiling     int        `json:"ceiling"`
	Window      string     `json:"window"`
	Remaining   int        `json:"remaining"`
	RefillIn    string     `json:"refill_in,omitempty"`
	Entries     int        `json:"entries"`
	OldestEntry *time.Time `json:"oldest_entry,omitempty"`
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	ledger := newLedger(cfg)
	left, refill := ledger.Remaining()
	entries := ledger.Entries()

	state := quotaState{
		Ledger:    ledger.Path(),
		Ceiling:   ledger.Ceiling(),
		Window:    ledger.Window().String(),
		Remaining: left,
		Entries:   len(entries),
	}
	if left < ledger.Ceiling() {
		state.RefillIn = refill.String()
	}
	if len(entries) > 0 {
		oldest := entries[0].At
		state.OldestEntry = &oldest
	}

	if quotaJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	ui.PrintQuota(left, ledger.Ceiling(), refill)
	ui.PrintInfo("Ledger", state.Ledger)
	ui.PrintInfo("Window", state.Window)
	ui.PrintInfo("Entries", fmt.Sprintf("%d", state.Entries))
	return nil
}
