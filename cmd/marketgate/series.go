package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/newthinker/marketgate/internal/app"
	"github.com/newthinker/marketgate/internal/core"
	"github.com/spf13/cobra"
)

var (
	seriesResolution string
	seriesCount      int
)

var seriesCmd = &cobra.Command{
	Use:   "series <symbol>",
	Short: "Fetch historical bars through the gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeries,
}

func init() {
	seriesCmd.Flags().StringVarP(&seriesResolution, "resolution", "r", "1day", "bar resolution (1m, 5m, 15m, 30m, 1h, 1day)")
	seriesCmd.Flags().IntVarP(&seriesCount, "count", "n", 30, "number of most recent bars")
	rootCmd.AddCommand(seriesCmd)
}

func runSeries(cmd *cobra.Command, args []string) error {
	res, err := core.ParseResolution(seriesResolution)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Gateway().GetSeries(cmd.Context(), args[0], res, seriesCount)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s via %s (%d bars)\n", s.Symbol, s.Resolution, s.Provider, len(s.Points))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	layout := "2006-01-02 15:04"
	if res == core.Res1Day {
		layout = "2006-01-02"
	}
	for _, b := range s.Points {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\n",
			b.Time.Format(layout), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	return tw.Flush()
}
