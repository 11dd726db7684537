package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/newthinker/marketgate/internal/app"
	"github.com/newthinker/marketgate/internal/gateway"
	"github.com/spf13/cobra"
)

var quoteJSON bool

var quoteCmd = &cobra.Command{
	Use:   "quote <symbol>...",
	Short: "Fetch current quotes through the gateway",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuote,
}

func init() {
	quoteCmd.Flags().BoolVar(&quoteJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) error {
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

	results, err := a.Gateway().GetQuotes(cmd.Context(), args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if quoteJSON {
		return writeQuotesJSON(out, results)
	}
	writeQuotesTable(out, results)
	return nil
}

func writeQuotesTable(out io.Writer, results []gateway.QuoteResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\tTIME\tPROVIDER\tCACHE")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\t\t\t\n", r.Symbol, r.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%s\t%s\t%s\n",
			r.Symbol, r.Quote.Price, r.Quote.Time.Format(time.RFC3339), r.Quote.Provider, r.Cache)
	}
	tw.Flush()
}

func writeQuotesJSON(out io.Writer, results []gateway.QuoteResult) error {
	type item struct {
		Symbol string `json:"symbol"`
		Quote  any    `json:"quote,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	items := make([]item, len(results))
	for i, r := range results {
		items[i] = item{Symbol: r.Symbol}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
		} else {
			items[i].Quote = r.Quote
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}
