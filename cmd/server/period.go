package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var periodAt string

// PeriodCmd prints where the configured schedule stands at a given time
var PeriodCmd = &cobra.Command{
	Use:   "period",
	Short: "Show the interval and period at a point in time",
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, err := cfg.Market.Schedule()
		if err != nil {
			return err
		}

		at := time.Now()
		if periodAt != "" {
			at, err = time.Parse(time.RFC3339, periodAt)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
		}

		pos := schedule.At(at)
		fmt.Fprintf(cmd.OutOrStdout(), "interval %d  %s  %s .. %s\n",
			pos.IntervalID, pos.Period,
			pos.PeriodStart.Format(time.RFC3339), pos.PeriodEnd.Format(time.RFC3339))
		return nil
	},
}

func init() {
	PeriodCmd.Flags().StringVar(&periodAt, "at", "", "RFC3339 time to evaluate (default now)")
}
