// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/storage/models"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format       ExportFormat
	StartTime    time.Time
	EndTime      time.Time
	TokenFilter  string // token address, hex
	TraderFilter string // trader address, hex
	SideFilter   string // buy or sell
	OutputDir    string
	// NativeDecimals converts base-unit volumes to whole units in summaries.
	NativeDecimals uint8
}

// TradeExporter writes journaled trades to files.
type TradeExporter struct {
	logger *zap.Logger
}

// NewTradeExporter creates a new trade exporter
func NewTradeExporter(logger *zap.Logger) *TradeExporter {
	return &TradeExporter{
		logger: logger.Named("export"),
	}
}

// ExportTrades exports trades based on the provided options
func (te *TradeExporter) ExportTrades(trades []*models.TradeRecord, options ExportOptions) (string, error) {
	filtered := te.filterTrades(trades, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no trades match the export criteria")
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExecutedAt.Before(filtered[j].ExecutedAt)
	})

	filename := te.generateFilename(options)
	outputPath := filepath.Join(options.OutputDir, filename)

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = te.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = te.exportToJSON(filtered, outputPath, options.NativeDecimals)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	te.logger.Info("Trades exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (te *TradeExporter) filterTrades(trades []*models.TradeRecord, options ExportOptions) []*models.TradeRecord {
	var filtered []*models.TradeRecord

	for _, trade := range trades {
		if !options.StartTime.IsZero() && trade.ExecutedAt.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !trade.ExecutedAt.Before(options.EndTime) {
			continue
		}
		if options.TokenFilter != "" && !sameAddress(trade.Token, options.TokenFilter) {
			continue
		}
		if options.TraderFilter != "" && !sameAddress(trade.Trader, options.TraderFilter) {
			continue
		}
		if options.SideFilter != "" && trade.Side != options.SideFilter {
			continue
		}
		filtered = append(filtered, trade)
	}

	return filtered
}

func (te *TradeExporter) generateFilename(options ExportOptions) string {
	timestamp := time.Now().Format("20060102_150405")

	prefix := "trades_all"
	if options.SideFilter != "" {
		prefix = fmt.Sprintf("trades_%s", options.SideFilter)
	}
	if len(options.TokenFilter) >= 10 {
		prefix += "_" + options.TokenFilter[2:10]
	}

	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

// CSVHeaders returns the column names of a trade row.
func CSVHeaders() []string {
	return []string{
		"trade_id", "executed_at", "token", "trader", "side",
		"native_amount", "token_amount", "fee", "owner_fee",
		"price", "market_cap_usd", "launched",
	}
}

func tradeToCSV(t *models.TradeRecord) []string {
	return []string{
		t.TradeID,
		t.ExecutedAt.UTC().Format(time.RFC3339Nano),
		t.Token,
		t.Trader,
		t.Side,
		t.NativeAmount,
		t.TokenAmount,
		t.Fee,
		t.OwnerFee,
		t.Price,
		t.MarketCapUSD,
		strconv.FormatBool(t.Launched),
	}
}

func (te *TradeExporter) exportToCSV(trades []*models.TradeRecord, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, trade := range trades {
		if err := writer.Write(tradeToCSV(trade)); err != nil {
			return fmt.Errorf("failed to write trade: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (te *TradeExporter) exportToJSON(trades []*models.TradeRecord, outputPath string, nativeDecimals uint8) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time             `json:"export_time"`
		TradeCount int                   `json:"trade_count"`
		Trades     []*models.TradeRecord `json:"trades"`
		Summary    ExportSummary         `json:"summary"`
	}{
		ExportTime: time.Now().UTC(),
		TradeCount: len(trades),
		Trades:     trades,
		Summary:    CalculateSummary(trades, nativeDecimals),
	}

	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported trades
type ExportSummary struct {
	TotalTrades     int             `json:"total_trades"`
	BuyCount        int             `json:"buy_count"`
	SellCount       int             `json:"sell_count"`
	UniqueTokens    int             `json:"unique_tokens"`
	UniqueTraders   int             `json:"unique_traders"`
	LaunchCount     int             `json:"launch_count"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TotalBuyVolume  decimal.Decimal `json:"total_buy_volume"`
	TotalSellVolume decimal.Decimal `json:"total_sell_volume"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
}

// CalculateSummary aggregates trades; volumes are in whole native units.
func CalculateSummary(trades []*models.TradeRecord, nativeDecimals uint8) ExportSummary {
	summary := ExportSummary{
		TotalTrades: len(trades),
	}
	if len(trades) == 0 {
		return summary
	}

	summary.StartDate = trades[0].ExecutedAt
	summary.EndDate = trades[len(trades)-1].ExecutedAt

	tokenSet := make(map[string]struct{})
	traderSet := make(map[string]struct{})

	for _, trade := range trades {
		tokenSet[trade.Token] = struct{}{}
		traderSet[trade.Trader] = struct{}{}
		if trade.Launched {
			summary.LaunchCount++
		}

		volume := baseUnits(trade.NativeAmount, nativeDecimals)
		summary.TotalFees = summary.TotalFees.Add(baseUnits(trade.Fee, nativeDecimals))

		switch trade.Side {
		case "buy":
			summary.BuyCount++
			summary.TotalBuyVolume = summary.TotalBuyVolume.Add(volume)
		case "sell":
			summary.SellCount++
			summary.TotalSellVolume = summary.TotalSellVolume.Add(volume)
		}
	}

	summary.UniqueTokens = len(tokenSet)
	summary.UniqueTraders = len(traderSet)
	summary.TotalVolume = summary.TotalBuyVolume.Add(summary.TotalSellVolume)

	return summary
}

// ExportDailyReport exports a daily summary report
func (te *TradeExporter) ExportDailyReport(trades []*models.TradeRecord, date time.Time, outputDir string, nativeDecimals uint8) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	options := ExportOptions{
		Format:    FormatJSON,
		StartTime: startOfDay,
		EndTime:   endOfDay,
		OutputDir: outputDir,
	}

	filename := fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102"))
	outputPath := filepath.Join(outputDir, filename)

	filtered := te.filterTrades(trades, options)
	if len(filtered) == 0 {
		te.logger.Info("No trades for daily report",
			zap.Time("date", startOfDay))
		return "", nil
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ExecutedAt.Before(filtered[j].ExecutedAt)
	})

	report := DailyReport{
		Date:            startOfDay,
		TradeCount:      len(filtered),
		Trades:          filtered,
		Summary:         CalculateSummary(filtered, nativeDecimals),
		HourlyBreakdown: calculateHourlyBreakdown(filtered, nativeDecimals),
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	te.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("trades", len(filtered)))

	return outputPath, nil
}

// DailyReport represents a daily trading report
type DailyReport struct {
	Date            time.Time             `json:"date"`
	TradeCount      int                   `json:"trade_count"`
	Summary         ExportSummary         `json:"summary"`
	HourlyBreakdown []HourlyStats         `json:"hourly_breakdown"`
	Trades          []*models.TradeRecord `json:"trades"`
}

// HourlyStats represents trading statistics for an hour
type HourlyStats struct {
	Hour       int             `json:"hour"`
	TradeCount int             `json:"trade_count"`
	BuyCount   int             `json:"buy_count"`
	SellCount  int             `json:"sell_count"`
	Volume     decimal.Decimal `json:"volume"`
}

func calculateHourlyBreakdown(trades []*models.TradeRecord, nativeDecimals uint8) []HourlyStats {
	hourlyMap := make(map[int]*HourlyStats)

	for _, trade := range trades {
		hour := trade.ExecutedAt.Hour()

		stats, exists := hourlyMap[hour]
		if !exists {
			stats = &HourlyStats{Hour: hour}
			hourlyMap[hour] = stats
		}

		stats.TradeCount++
		stats.Volume = stats.Volume.Add(baseUnits(trade.NativeAmount, nativeDecimals))

		switch trade.Side {
		case "buy":
			stats.BuyCount++
		case "sell":
			stats.SellCount++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, exists := hourlyMap[hour]; exists {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}

func baseUnits(raw string, decimals uint8) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-int32(decimals))
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
