package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/app"
	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/pricing"
	"github.com/rovshanmuradov/launchpad/internal/scenario"
)

func newSimulateCmd(c *cli) *cobra.Command {
	var (
		scenarioPath string
		jsonOut      bool
		hold         bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a YAML scenario of creates, trades and fee claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.simulate(ctx, cmd.OutOrStdout(), scenarioPath, jsonOut, hold)
		},
	}
	cmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the metrics endpoint up until interrupted")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func (c *cli) simulate(ctx context.Context, out io.Writer, path string, jsonOut, hold bool) error {
	log := c.logger.WithOperation("simulate")

	sc, err := scenario.NewLoader(c.logger.Logger).LoadFile(path)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, c.cfg, c.logger.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Error("Shutdown failed", zap.Error(err))
		}
	}()
	a.ServeMetrics()

	end := c.logger.TrackPerformance("scenario")
	report, runErr := scenario.NewRunner(a.Engine(), a.Owner(), c.logger.Logger).Run(ctx, sc)
	end()

	if jsonOut {
		if err := printReportJSON(out, report, a); err != nil {
			return err
		}
	} else {
		printReport(out, report, a)
	}
	if runErr != nil {
		return runErr
	}

	if hold && c.cfg.Metrics.Enabled {
		log.Info("Holding metrics endpoint, interrupt to exit")
		<-ctx.Done()
	}
	return nil
}

func printReport(out io.Writer, report *scenario.Report, a *app.App) {
	cfg := a.Engine().Settings().Snapshot()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTEP\tACTION\tACTOR\tNATIVE\tTOKENS\tRESULT")
	for i, r := range report.Results {
		result := "ok"
		switch {
		case r.Err != nil:
			result = fmt.Sprintf("error(%s): %v", domain.KindOf(r.Err), r.Err)
		case r.Launched:
			result = fmt.Sprintf("launched %d pairs", len(r.Pairs))
		case r.LaunchErr != nil:
			result = fmt.Sprintf("launch aborted: %v", r.LaunchErr)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, r.Name, r.Action, r.Actor,
			units(r.Native, cfg.NativeDecimals), units(r.Tokens, cfg.TokenDecimals), result)
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d steps, %d failed, %s\n\n",
		len(report.Results), report.Failed(), report.Finished.Sub(report.Started).Round(time.Millisecond))

	printPools(out, a)
}

func printPools(out io.Writer, a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	usd, err := a.Engine().USDPerNative(ctx)
	if err != nil {
		usd = decimal.Zero
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSYMBOL\tSTATUS\tNATIVE\tTOKENS\tPRICE\tMCAP_USD")
	for _, p := range a.Engine().Pools() {
		price, _ := pricing.SpotPrice(p)
		mcap, _ := pricing.MarketCapAt(p, price, usd)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Token.Hex(), p.Symbol, p.Status,
			units(p.RealNativeReserve, p.NativeDecimals), units(p.RealTokenReserve, p.TokenDecimals),
			price.StringFixed(12), mcap.StringFixed(2))
	}
	_ = w.Flush()
}

type reportJSON struct {
	Name     string            `json:"name"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Failed   int               `json:"failed"`
	Tokens   map[string]string `json:"tokens"`
	Steps    []stepJSON        `json:"steps"`
}

type stepJSON struct {
	Name      string   `json:"name"`
	Action    string   `json:"action"`
	Actor     string   `json:"actor,omitempty"`
	Token     string   `json:"token,omitempty"`
	TradeID   string   `json:"trade_id,omitempty"`
	Native    string   `json:"native,omitempty"`
	Tokens    string   `json:"tokens,omitempty"`
	Launched  bool     `json:"launched,omitempty"`
	Pairs     []string `json:"pairs,omitempty"`
	LaunchErr string   `json:"launch_error,omitempty"`
	Error     string   `json:"error,omitempty"`
	Kind      string   `json:"kind,omitempty"`
}

func printReportJSON(out io.Writer, report *scenario.Report, a *app.App) error {
	cfg := a.Engine().Settings().Snapshot()
	doc := reportJSON{
		Name:     report.Name,
		Started:  report.Started,
		Finished: report.Finished,
		Failed:   report.Failed(),
		Tokens:   make(map[string]string, len(report.Tokens)),
	}
	for alias, addr := range report.Tokens {
		doc.Tokens[alias] = addr.Hex()
	}
	for _, r := range report.Results {
		s := stepJSON{
			Name:     r.Name,
			Action:   string(r.Action),
			Actor:    r.Actor,
			TradeID:  r.TradeID,
			Native:   units(r.Native, cfg.NativeDecimals),
			Tokens:   units(r.Tokens, cfg.TokenDecimals),
			Launched: r.Launched,
		}
		if r.Token != (common.Address{}) {
			s.Token = r.Token.Hex()
		}
		for _, p := range r.Pairs {
			s.Pairs = append(s.Pairs, p.Hex())
		}
		if r.LaunchErr != nil {
			s.LaunchErr = r.LaunchErr.Error()
		}
		if r.Err != nil {
			s.Error = r.Err.Error()
			s.Kind = string(domain.KindOf(r.Err))
		}
		doc.Steps = append(doc.Steps, s)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
