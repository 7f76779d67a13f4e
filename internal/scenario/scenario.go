// =============================================
// File: internal/scenario/scenario.go
// =============================================
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

// Action is what a scenario step does.
type Action string

const (
	ActionCreate   Action = "create"
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionClaim    Action = "claim"
	ActionWithdraw Action = "withdraw"
	ActionRetry    Action = "retry_launch"
)

// maxRepeat bounds a single step's repeat count.
const maxRepeat = 10_000

// File is the YAML layout of a scenario.
type File struct {
	Name        string            `yaml:"name"`
	StopOnError bool              `yaml:"stop_on_error"`
	Actors      map[string]string `yaml:"actors"`
	Steps       []StepSpec        `yaml:"steps"`
}

// StepSpec is one raw step. Amounts are whole units written as strings so
// that large values survive YAML number parsing.
type StepSpec struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"`
	Actor  string `yaml:"actor"`
	// Token is the scenario alias of a token; create steps define it.
	Token     string   `yaml:"token"`
	TokenName string   `yaml:"token_name"`
	Symbol    string   `yaml:"symbol"`
	Variant   string   `yaml:"variant"`
	Routers   []string `yaml:"routers"`

	Amount          string  `yaml:"amount"`
	Payment         string  `yaml:"payment"`
	Percent         float64 `yaml:"percent"`
	SlippagePercent float64 `yaml:"slippage_percent"`
	Recipient       string  `yaml:"recipient"`
	Repeat          int     `yaml:"repeat"`
}

// Scenario is a validated, ready-to-run sequence of steps.
type Scenario struct {
	Name        string
	StopOnError bool
	Steps       []*Step
}

// Step is a parsed scenario step.
type Step struct {
	Index     int
	Name      string
	Action    Action
	ActorName string
	Actor     common.Address
	Token     string
	TokenName string
	Symbol    string
	Variant   domain.Variant
	Routers   []string

	// Amount is native for create and buy, tokens for sell.
	Amount    decimal.Decimal
	Payment   decimal.Decimal
	Percent   decimal.Decimal
	Slippage  domain.SlippageConfig
	Recipient common.Address
	Repeat    int
}

// Loader parses scenario files.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger.Named("scenario")}
}

// ActorAddress derives a stable address for a named actor.
func ActorAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("actor:" + name))[12:])
}

func parseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionCreate, ActionBuy, ActionSell, ActionClaim, ActionWithdraw, ActionRetry:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported action: %q", s)
	}
}

func parseVariant(s string) (domain.Variant, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return domain.VariantStandard, nil
	case "legacy":
		return domain.VariantLegacy, nil
	default:
		return 0, fmt.Errorf("unknown variant %q", s)
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	return d, nil
}

func clamp(val, min, max, def float64) float64 {
	if val < min || val > max {
		return def
	}
	return val
}

// LoadFile reads a scenario from a YAML file.
func (l *Loader) LoadFile(path string) (*Scenario, error) {
	if filepath.IsAbs(path) {
		l.logger.Debug("Using absolute path for scenario file", zap.String("path", path))
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return l.Parse(data)
}

// Parse validates raw YAML. Invalid steps are logged and skipped; a scenario
// with no valid steps is an error.
func (l *Loader) Parse(data []byte) (*Scenario, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("no steps found in scenario")
	}

	actors := make(map[string]common.Address, len(f.Actors))
	for name, hex := range f.Actors {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("actor %q: invalid address %q", name, hex)
		}
		actors[name] = common.HexToAddress(hex)
	}
	resolve := func(name string) common.Address {
		if addr, ok := actors[name]; ok {
			return addr
		}
		if common.IsHexAddress(name) {
			return common.HexToAddress(name)
		}
		return ActorAddress(name)
	}

	sc := &Scenario{Name: f.Name, StopOnError: f.StopOnError}
	defined := make(map[string]bool)

	for i, raw := range f.Steps {
		step, err := l.parseStep(i, raw, resolve)
		if err != nil {
			l.logger.Warn("Skipping invalid step",
				zap.Int("index", i),
				zap.String("name", raw.Name),
				zap.Error(err))
			continue
		}
		if step.Action == ActionCreate {
			if defined[step.Token] {
				l.logger.Warn("Skipping duplicate token alias",
					zap.Int("index", i),
					zap.String("token", step.Token))
				continue
			}
			defined[step.Token] = true
		} else if !defined[step.Token] {
			l.logger.Warn("Skipping step on undefined token",
				zap.Int("index", i),
				zap.String("token", step.Token))
			continue
		}
		sc.Steps = append(sc.Steps, step)
	}

	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("no valid steps loaded")
	}

	l.logger.Info("Loaded scenario",
		zap.String("name", sc.Name),
		zap.Int("steps", len(sc.Steps)))
	return sc, nil
}

func (l *Loader) parseStep(i int, raw StepSpec, resolve func(string) common.Address) (*Step, error) {
	action, err := parseAction(raw.Action)
	if err != nil {
		return nil, err
	}
	if raw.Token == "" {
		return nil, fmt.Errorf("token alias is required")
	}

	step := &Step{
		Index:     i,
		Name:      raw.Name,
		Action:    action,
		ActorName: raw.Actor,
		Token:     raw.Token,
		TokenName: raw.TokenName,
		Symbol:    raw.Symbol,
		Routers:   raw.Routers,
		Repeat:    raw.Repeat,
	}
	if step.Name == "" {
		step.Name = fmt.Sprintf("%s-%d", action, i)
	}
	if step.Repeat <= 0 || step.Repeat > maxRepeat {
		step.Repeat = 1
	}

	if step.Amount, err = parseAmount(raw.Amount); err != nil {
		return nil, err
	}
	if step.Payment, err = parseAmount(raw.Payment); err != nil {
		return nil, err
	}

	// withdraw is an owner action and needs no actor
	if action != ActionWithdraw && action != ActionRetry {
		if raw.Actor == "" {
			return nil, fmt.Errorf("actor is required for %s", action)
		}
		step.Actor = resolve(raw.Actor)
	}

	switch action {
	case ActionCreate:
		if step.TokenName == "" {
			step.TokenName = raw.Token
		}
		if step.Symbol == "" {
			step.Symbol = strings.ToUpper(raw.Token)
		}
		if step.Variant, err = parseVariant(raw.Variant); err != nil {
			return nil, err
		}
		// payment defaults to exactly the initial buy
		if step.Payment.IsZero() {
			step.Payment = step.Amount
		}
		step.Repeat = 1
	case ActionBuy:
		if !step.Amount.IsPositive() {
			return nil, fmt.Errorf("buy amount must be positive")
		}
	case ActionSell:
		if step.Amount.IsZero() {
			step.Percent = decimal.NewFromFloat(clamp(raw.Percent, 0.01, 100, 100))
		}
	case ActionWithdraw:
		if raw.Recipient == "" {
			return nil, fmt.Errorf("recipient is required for withdraw")
		}
		step.Recipient = resolve(raw.Recipient)
		step.Repeat = 1
	}

	if action == ActionBuy || action == ActionSell {
		if raw.SlippagePercent > 0 {
			step.Slippage = domain.SlippageConfig{
				Type:  domain.SlippagePercent,
				Value: decimal.NewFromFloat(clamp(raw.SlippagePercent, 0, 100, 1)),
			}
		} else {
			step.Slippage = domain.SlippageConfig{Type: domain.SlippageNone}
		}
	}
	return step, nil
}
