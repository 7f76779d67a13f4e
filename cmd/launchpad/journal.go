package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/export"
	"github.com/rovshanmuradov/launchpad/internal/storage"
	"github.com/rovshanmuradov/launchpad/internal/storage/gormstore"
)

// openJournal connects to the configured database for read commands.
func (c *cli) openJournal(ctx context.Context) (*gormstore.Store, error) {
	if c.cfg.Storage.Driver == "" {
		return nil, fmt.Errorf("storage.driver is not configured")
	}
	global := c.cfg.Global.Clone()
	return gormstore.Open(ctx, c.cfg.Storage, func() *domain.GlobalConfig { return global }, c.logger.Logger)
}

func newPoolsCmd(c *cli) *cobra.Command {
	var launches bool
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "List journaled pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			pools, err := store.ListPools(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tSYMBOL\tVARIANT\tSTATUS\tNATIVE\tTOKENS\tOWNER_FEES\tPROTOCOL_FEES")
			for _, p := range pools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Token.Hex(), p.Symbol, p.Variant, p.Status,
					units(p.RealNativeReserve, p.NativeDecimals), units(p.RealTokenReserve, p.TokenDecimals),
					units(p.OwnerFeesAccrued, p.NativeDecimals), units(p.ProtocolFeesAccrued, p.NativeDecimals))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !launches {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout())
			w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tSTATUS\tROUTERS\tSTARTED\tERROR")
			for _, p := range pools {
				records, err := store.ListLaunches(cmd.Context(), p.Token)
				if err != nil {
					return err
				}
				for _, l := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						l.Token, l.Status, l.Routers, l.StartedAt.Format(time.RFC3339), l.Error)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&launches, "launches", false, "also list launch attempts")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var (
		format string
		outDir string
		token  string
		trader string
		side   string
		since  string
		until  string
		daily  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export journaled trades to CSV or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			filter := storage.TradeFilter{Side: domain.Side(side)}
			if token != "" {
				if !common.IsHexAddress(token) {
					return fmt.Errorf("invalid token address %q", token)
				}
				filter.Token = common.HexToAddress(token)
			}
			if trader != "" {
				if !common.IsHexAddress(trader) {
					return fmt.Errorf("invalid trader address %q", trader)
				}
				filter.Trader = common.HexToAddress(trader)
			}
			opts := export.ExportOptions{
				Format:         export.ExportFormat(format),
				TokenFilter:    token,
				TraderFilter:   trader,
				SideFilter:     side,
				OutputDir:      outDir,
				NativeDecimals: c.cfg.Global.NativeDecimals,
			}
			if opts.StartTime, err = parseTime(since); err != nil {
				return err
			}
			if opts.EndTime, err = parseTime(until); err != nil {
				return err
			}
			filter.From, filter.To = opts.StartTime, opts.EndTime

			trades, err := store.ListTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			exporter := export.NewTradeExporter(c.logger.Logger)
			var path string
			if daily != "" {
				date, err := time.Parse(time.DateOnly, daily)
				if err != nil {
					return fmt.Errorf("invalid --daily date: %w", err)
				}
				path, err = exporter.ExportDailyReport(trades, date, outDir, c.cfg.Global.NativeDecimals)
				if err != nil {
					return err
				}
			} else if path, err = exporter.ExportTrades(trades, opts); err != nil {
				return err
			}

			if path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no trades to export")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d trades to %s\n", len(trades), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "csv or json")
	cmd.Flags().StringVarP(&outDir, "out", "o", "exports", "output directory")
	cmd.Flags().StringVar(&token, "token", "", "only this token")
	cmd.Flags().StringVar(&trader, "trader", "", "only this trader")
	cmd.Flags().StringVar(&side, "side", "", "buy or sell")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 lower bound")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 upper bound")
	cmd.Flags().StringVar(&daily, "daily", "", "write the daily report for YYYY-MM-DD instead")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return t, nil
}
