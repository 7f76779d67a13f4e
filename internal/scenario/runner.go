package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/engine"
	"github.com/rovshanmuradov/launchpad/internal/registry"
	"github.com/rovshanmuradov/launchpad/internal/settings"
)

// StepResult records one execution of a step.
type StepResult struct {
	Index    int
	Name     string
	Action   Action
	Actor    string
	Token    common.Address
	TradeID  string
	Native   *uint256.Int
	Tokens   *uint256.Int
	Launched bool
	Pairs    []common.Address
	// LaunchErr is set when a committed trade's launch attempt aborted.
	LaunchErr error
	Err       error
}

// Report is the outcome of a scenario run.
type Report struct {
	Name     string
	Started  time.Time
	Finished time.Time
	Results  []StepResult
	// Tokens maps scenario aliases to deployed token addresses.
	Tokens map[string]common.Address
}

// Failed counts step executions that returned an error.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Runner executes scenarios against an engine.
type Runner struct {
	engine *engine.Engine
	owner  *settings.OwnerCap
	logger *zap.Logger
}

// NewRunner creates a runner. owner may be nil when the scenario has no
// withdraw steps.
func NewRunner(e *engine.Engine, owner *settings.OwnerCap, logger *zap.Logger) *Runner {
	return &Runner{
		engine: e,
		owner:  owner,
		logger: logger.Named("scenario_runner"),
	}
}

// Run executes every step in order. A failing step stops its own repeats;
// with StopOnError it also stops the run and the error is returned along
// with the partial report.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	report := &Report{
		Name:    sc.Name,
		Started: time.Now(),
		Tokens:  make(map[string]common.Address),
	}
	defer func() { report.Finished = time.Now() }()

	r.logger.Info("Scenario started",
		zap.String("name", sc.Name),
		zap.Int("steps", len(sc.Steps)))

	for _, step := range sc.Steps {
		for n := 0; n < step.Repeat; n++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			res := r.exec(ctx, step, report.Tokens)
			report.Results = append(report.Results, res)

			if res.Err != nil {
				r.logger.Warn("Step failed",
					zap.String("step", step.Name),
					zap.Int("iteration", n),
					zap.String("kind", string(domain.KindOf(res.Err))),
					zap.Error(res.Err))
				if sc.StopOnError {
					return report, fmt.Errorf("step %s: %w", step.Name, res.Err)
				}
				break
			}
		}
	}

	r.logger.Info("Scenario finished",
		zap.String("name", sc.Name),
		zap.Int("executed", len(report.Results)),
		zap.Int("failed", report.Failed()))
	return report, nil
}

func (r *Runner) exec(ctx context.Context, step *Step, tokens map[string]common.Address) StepResult {
	res := StepResult{
		Index:  step.Index,
		Name:   step.Name,
		Action: step.Action,
		Actor:  step.ActorName,
	}

	if step.Action == ActionCreate {
		res.Err = r.create(ctx, step, tokens, &res)
		return res
	}

	addr, ok := tokens[step.Token]
	if !ok {
		res.Err = domain.NewError(domain.KindNotFound, "token", "token %q was not created", step.Token)
		return res
	}
	res.Token = addr

	switch step.Action {
	case ActionBuy:
		res.Err = r.buy(ctx, step, addr, &res)
	case ActionSell:
		res.Err = r.sell(ctx, step, addr, &res)
	case ActionClaim:
		amount, err := r.engine.ClaimOwnerFees(ctx, addr, step.Actor)
		res.Native, res.Err = amount, err
	case ActionWithdraw:
		amount, err := r.engine.WithdrawProtocolFees(ctx, r.owner, addr, step.Recipient)
		res.Native, res.Err = amount, err
	case ActionRetry:
		launch, err := r.engine.RetryLaunch(ctx, addr)
		if err != nil {
			res.Err = err
			break
		}
		res.Launched = true
		res.Pairs = launch.PairAddresses()
	default:
		res.Err = fmt.Errorf("unsupported action %q", step.Action)
	}
	return res
}

func (r *Runner) create(ctx context.Context, step *Step, tokens map[string]common.Address, res *StepResult) error {
	cfg := r.engine.Settings().Snapshot()

	var initialBuy *uint256.Int
	if step.Amount.IsPositive() {
		amount, err := cfg.NativeUnits("amount", step.Amount)
		if err != nil {
			return err
		}
		initialBuy = amount
	}
	payment, err := cfg.NativeUnits("payment", step.Payment)
	if err != nil {
		return err
	}

	// без явного выбора пул получает все включённые роутеры
	routers := step.Routers
	if len(routers) == 0 {
		routers = cfg.EnabledRouterIDs()
	}

	created, err := r.engine.CreateToken(ctx, registry.CreateParams{
		Name:       step.TokenName,
		Symbol:     step.Symbol,
		Creator:    step.Actor,
		InitialBuy: initialBuy,
		Payment:    payment,
		Routers:    routers,
		Variant:    step.Variant,
	})
	if err != nil {
		return err
	}

	tokens[step.Token] = created.Token
	res.Token = created.Token
	if created.InitialBuy != nil {
		fillTrade(res, created.InitialBuy)
	}
	return nil
}

func (r *Runner) buy(ctx context.Context, step *Step, addr common.Address, res *StepResult) error {
	nativeIn, err := r.engine.Settings().Snapshot().NativeUnits("amount", step.Amount)
	if err != nil {
		return err
	}
	quote, err := r.engine.QuoteBuy(addr, nativeIn)
	if err != nil {
		return err
	}
	minOut, err := domain.MinAmountOut(quote.AmountOut, step.Slippage)
	if err != nil {
		return err
	}

	trade, err := r.engine.Buy(ctx, domain.BuyParams{
		Token:        addr,
		Trader:       step.Actor,
		NativeIn:     nativeIn,
		MinTokensOut: minOut,
	})
	if err != nil {
		return err
	}
	fillTrade(res, trade)
	return nil
}

func (r *Runner) sell(ctx context.Context, step *Step, addr common.Address, res *StepResult) error {
	var tokensIn *uint256.Int
	if step.Amount.IsPositive() {
		amount, err := r.engine.Settings().Snapshot().TokenUnits("amount", step.Amount)
		if err != nil {
			return err
		}
		tokensIn = amount
	} else {
		tok, ok := r.engine.Tokens().Get(addr)
		if !ok {
			return domain.NewError(domain.KindNotFound, "token", "token %s not deployed", addr.Hex())
		}
		amount, err := domain.PercentOf("percent", tok.BalanceOf(step.Actor), step.Percent)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return domain.NewError(domain.KindValidation, "amount", "%s holds nothing to sell", step.ActorName)
		}
		tokensIn = amount
	}

	quote, err := r.engine.QuoteSell(addr, tokensIn)
	if err != nil {
		return err
	}
	minOut, err := domain.MinAmountOut(quote.AmountOut, step.Slippage)
	if err != nil {
		return err
	}

	trade, err := r.engine.Sell(ctx, domain.SellParams{
		Token:        addr,
		Trader:       step.Actor,
		TokensIn:     tokensIn,
		MinNativeOut: minOut,
	})
	if err != nil {
		return err
	}
	fillTrade(res, trade)
	return nil
}

func fillTrade(res *StepResult, t *domain.TradeResult) {
	res.TradeID = t.ID
	res.Native = t.NativeAmount
	res.Tokens = t.TokenAmount
	res.Launched = t.Launched
	res.Pairs = t.Pairs
	res.LaunchErr = t.LaunchErr
}
