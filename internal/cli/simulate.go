package cli

import (
	"github.com/spf13/cobra"

	"flipwatch/internal/app"
)

var (
	simulateAsk    float64
	simulateMedian float64
	simulateSource string
	simulateSend   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a synthetic listing through the fee model",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Ask:      simulateAsk,
			Median:   simulateMedian,
			Source:   simulateSource,
			SendMail: simulateSend,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateAsk, "ask", 0, "Current ask price of the synthetic listing")
	simulateCmd.Flags().Float64Var(&simulateMedian, "median", 0, "Comps median resale price")
	simulateCmd.Flags().StringVar(&simulateSource, "source", "", "Listing source for per-source overrides")
	simulateCmd.Flags().BoolVar(&simulateSend, "send", false, "Also send a test email through SMTP")
}
