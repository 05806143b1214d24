package cli

import (
	"github.com/spf13/cobra"

	"flipwatch/internal/app"
)

var (
	recomputeForce  bool
	recomputeWindow int
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild the comparables snapshot from listing history",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RecomputeOptions{
			Force:      recomputeForce,
			WindowDays: recomputeWindow,
		}
		return getApp().Recompute(cmd.Context(), opts)
	},
}

func init() {
	recomputeCmd.Flags().BoolVar(&recomputeForce, "force", false, "Bypass the minimum rebuild interval")
	recomputeCmd.Flags().IntVar(&recomputeWindow, "window", 0, "Trailing window in days (defaults to config)")
}
