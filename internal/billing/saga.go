package billing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/notify"
	"github.com/mersvpn/mersyar/internal/repository"
)

// SagaState tracks how far a wallet renewal got, so a failure at any
// step knows exactly what to undo.
type SagaState string

const (
	SagaStarted            SagaState = "started"
	SagaDebited            SagaState = "debited"
	SagaInvoiceCreated     SagaState = "invoice_created"
	SagaCommitted          SagaState = "committed"
	SagaRolledBack         SagaState = "rolled_back"
	SagaCompensationFailed SagaState = "compensation_failed"
)

// RenewalSaga runs a wallet-funded renewal as a short compensating
// transaction: debit the wallet, record the invoice, apply the change on
// the panel through the normal approval path. Any failure after the
// debit puts the money back; a failed refund is flagged for an operator.
type RenewalSaga struct {
	customers *repository.CustomerRepository
	notes     *repository.NoteRepository
	ledger    *Ledger
	notifier  notify.Notifier
	log       *zap.Logger
}

func NewRenewalSaga(
	customers *repository.CustomerRepository,
	notes *repository.NoteRepository,
	ledger *Ledger,
	notifier notify.Notifier,
	log *zap.Logger,
) *RenewalSaga {
	return &RenewalSaga{
		customers: customers,
		notes:     notes,
		ledger:    ledger,
		notifier:  notifier,
		log:       log,
	}
}

// RenewFromWallet renews a subscription paid entirely from the wallet.
// The returned state reports where the saga ended up; on
// SagaRolledBack the wallet is whole again and the error says why.
func (s *RenewalSaga) RenewFromWallet(ctx context.Context, telegramID int64, username string) (SagaState, error) {
	state := SagaStarted

	note, err := s.notes.FindByUsername(username)
	if err != nil {
		return state, fmt.Errorf("no plan note for %q: %w", username, err)
	}
	if note.Price <= 0 {
		return state, fmt.Errorf("subscription %q has no price set", username)
	}

	debited, err := s.customers.DecreaseBalance(telegramID, note.Price)
	if err != nil {
		return state, fmt.Errorf("debit wallet: %w", err)
	}
	if !debited {
		return state, fmt.Errorf("%w: need %d", ErrInsufficientFunds, note.Price)
	}
	state = SagaDebited

	invoice := &models.Invoice{
		TelegramID:    telegramID,
		Type:          models.InvoiceTypeRenewal,
		Price:         note.Price,
		WalletPortion: note.Price,
	}
	invoice.SetPlan(models.PlanDetails{
		Username:     username,
		VolumeGB:     note.DataLimitGB,
		DurationDays: note.DurationDays,
		Unlimited:    note.DataLimitGB == 0,
	})
	if err := s.ledger.CreatePending(invoice); err != nil {
		return s.rollback(ctx, state, telegramID, note.Price, username,
			fmt.Errorf("record renewal invoice: %w", err))
	}
	state = SagaInvoiceCreated

	err = s.ledger.Approve(ctx, ApprovalRequest{InvoiceID: invoice.ID, Actor: ActorSystem})
	if err != nil && !errors.Is(err, ErrAlreadyProcessed) {
		if errors.Is(err, ErrCompensationFailed) {
			s.notifier.SendToAdmin(ctx, fmt.Sprintf(
				"🚨 Renewal of %s (customer %d) failed and the %d refund failed with it: %v",
				username, telegramID, note.Price, err))
			return SagaCompensationFailed, fmt.Errorf("apply renewal: %w", err)
		}
		if errors.Is(err, ErrRemoteMutationFailed) {
			// The ledger already unwound the invoice and refunded the
			// wallet portion.
			s.log.Warn("renewal failed, wallet refunded",
				zap.String("username", username), zap.Uint("invoice_id", invoice.ID), zap.Error(err))
			return SagaRolledBack, fmt.Errorf("apply renewal: %w", err)
		}
		// The approval never claimed the invoice; rejecting it through
		// the ledger refunds the wallet portion exactly once.
		if rErr := s.ledger.Reject(ctx, ApprovalRequest{InvoiceID: invoice.ID, Actor: ActorSystem}); rErr != nil && !errors.Is(rErr, ErrAlreadyProcessed) {
			s.log.Error("CRITICAL: renewal refund failed, manual intervention required",
				zap.String("username", username),
				zap.Uint("invoice_id", invoice.ID),
				zap.Error(rErr))
			s.notifier.SendToAdmin(ctx, fmt.Sprintf(
				"🚨 Refund of %d for %s (customer %d) failed after a broken renewal: %v",
				note.Price, username, telegramID, rErr))
			return SagaCompensationFailed, fmt.Errorf("%w: after %v", ErrCompensationFailed, err)
		}
		return SagaRolledBack, fmt.Errorf("apply renewal: %w", err)
	}
	state = SagaCommitted

	s.log.Info("wallet renewal committed",
		zap.String("username", username),
		zap.Int64("telegram_id", telegramID),
		zap.Int64("price", note.Price),
		zap.Uint("invoice_id", invoice.ID))
	return state, nil
}

func (s *RenewalSaga) rollback(ctx context.Context, state SagaState, telegramID int64, price int64, username string, cause error) (SagaState, error) {
	s.log.Warn("renewal failed, refunding wallet",
		zap.String("username", username),
		zap.String("state", string(state)),
		zap.Error(cause))

	if err := s.customers.IncreaseBalance(telegramID, price); err != nil {
		s.log.Error("CRITICAL: renewal refund failed, manual intervention required",
			zap.String("username", username),
			zap.Int64("telegram_id", telegramID),
			zap.Int64("amount", price),
			zap.Error(err))
		s.notifier.SendToAdmin(ctx, fmt.Sprintf(
			"🚨 Refund of %d for %s (customer %d) failed after a broken renewal: %v",
			price, username, telegramID, err))
		return SagaCompensationFailed, fmt.Errorf("%w: after %v", ErrCompensationFailed, cause)
	}

	return SagaRolledBack, cause
}
