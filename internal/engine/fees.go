package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launchpad/internal/domain"
	"github.com/rovshanmuradov/launchpad/internal/events"
	"github.com/rovshanmuradov/launchpad/internal/settings"
)

// ClaimOwnerFees pays the creator's accrued fee share to the creator.
func (e *Engine) ClaimOwnerFees(ctx context.Context, token, caller common.Address) (*uint256.Int, error) {
	return e.withdraw(ctx, token, caller, true, func(p *domain.Pool) error {
		if p.Owner != caller {
			return domain.NewError(domain.KindUnauthorized, "caller", "%s is not the creator of %s", caller.Hex(), token.Hex())
		}
		return nil
	})
}

// WithdrawProtocolFees pays the protocol's accrued fees of one pool to recipient.
func (e *Engine) WithdrawProtocolFees(ctx context.Context, c *settings.OwnerCap, token, recipient common.Address) (*uint256.Int, error) {
	if err := e.settings.Authorize(c, "protocol_fees"); err != nil {
		return nil, err
	}
	if recipient == (common.Address{}) {
		return nil, domain.NewError(domain.KindValidation, "recipient", "recipient address is zero")
	}
	return e.withdraw(ctx, token, recipient, false, nil)
}

func (e *Engine) withdraw(ctx context.Context, token, recipient common.Address, owner bool, check func(*domain.Pool) error) (*uint256.Int, error) {
	h, release, err := e.registry.Acquire(token)
	if err != nil {
		return nil, err
	}
	defer release()

	pool := h.Pool()
	if check != nil {
		if err := check(pool); err != nil {
			return nil, err
		}
	}

	balance := &pool.ProtocolFeesAccrued
	if owner {
		balance = &pool.OwnerFeesAccrued
	}
	amount := (*balance).Clone()
	if amount.IsZero() {
		return nil, domain.NewError(domain.KindValidation, "fees", "nothing to withdraw")
	}
	*balance = domain.Zero()

	if err := e.journal.SavePool(ctx, pool); err != nil {
		return nil, err
	}
	h.Commit(pool)

	e.logger.Info("Fees withdrawn",
		zap.String("token", token.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.Dec()),
		zap.Bool("owner", owner))

	events.Emit(e.bus, events.FeesWithdrawnEvent{
		BaseEvent: events.NewBase(events.FeesWithdrawn),
		Token:     token,
		Recipient: recipient,
		Amount:    amount.Clone(),
		Owner:     owner,
	}, e.dropped)
	return amount, nil
}

func (e *Engine) dropped(ev events.Event, err error) {
	e.logger.Error("Fee event lost",
		zap.String("event_type", string(ev.Type())),
		zap.Error(err))
	e.metrics.RecordEventDropped(string(ev.Type()))
}
