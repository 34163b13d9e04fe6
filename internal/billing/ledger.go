package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/notify"
	"github.com/mersvpn/mersyar/internal/pkg/utils"
	"github.com/mersvpn/mersyar/internal/repository"
)

// Actor identifies who settles an invoice.
type Actor string

const (
	ActorAdmin  Actor = "admin"
	ActorSystem Actor = "system"
)

// autoApproveDelay is the grace window between creating an invoice with
// auto-confirm on and settling it, so an admin can still intervene.
const autoApproveDelay = 30 * time.Second

// ApprovalRequest settles one invoice. Admin approvals and the
// auto-approve timer both go through the same path.
type ApprovalRequest struct {
	InvoiceID uint
	Actor     Actor
}

// Ledger owns the invoice lifecycle. Every invoice is born pending and
// is moved to exactly one terminal state by exactly one caller; the
// conditional status update in the repository is what enforces that, so
// admin clicks, the auto-approve timer and the stale sweep can all race
// safely.
type Ledger struct {
	invoices    *repository.InvoiceRepository
	customers   *repository.CustomerRepository
	settings    *repository.SettingRepository
	provisioner *Provisioner
	notifier    notify.Notifier
	log         *zap.Logger

	autoApprove time.Duration

	mu     sync.Mutex
	timers map[uint]*time.Timer
}

func NewLedger(
	invoices *repository.InvoiceRepository,
	customers *repository.CustomerRepository,
	settings *repository.SettingRepository,
	provisioner *Provisioner,
	notifier notify.Notifier,
	log *zap.Logger,
) *Ledger {
	return &Ledger{
		invoices:    invoices,
		customers:   customers,
		settings:    settings,
		provisioner: provisioner,
		notifier:    notifier,
		log:         log,
		autoApprove: autoApproveDelay,
		timers:      make(map[uint]*time.Timer),
	}
}

// CreatePending records a new pending invoice. When auto-confirm is
// enabled in settings, a timer is armed that settles the invoice after
// the grace window; Approve and Reject cancel it.
func (l *Ledger) CreatePending(invoice *models.Invoice) error {
	invoice.Status = models.InvoiceStatusPending
	if err := l.invoices.Create(invoice); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}

	l.log.Info("invoice created",
		zap.Uint("invoice_id", invoice.ID),
		zap.String("type", string(invoice.Type)),
		zap.Int64("telegram_id", invoice.TelegramID),
		zap.Int64("price", invoice.Price),
		zap.Int64("wallet_portion", invoice.WalletPortion))

	settings, err := l.settings.GetSettings()
	if err != nil {
		l.log.Error("settings unavailable, skipping auto-approve", zap.Error(err))
		return nil
	}
	if settings.AutoConfirmInvoices {
		l.armAutoApprove(invoice.ID)
	}
	return nil
}

func (l *Ledger) armAutoApprove(invoiceID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[invoiceID]; ok {
		t.Stop()
	}
	l.timers[invoiceID] = time.AfterFunc(l.autoApprove, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := l.Approve(ctx, ApprovalRequest{InvoiceID: invoiceID, Actor: ActorSystem})
		if err != nil && !errors.Is(err, ErrAlreadyProcessed) {
			l.log.Error("auto-approve failed", zap.Uint("invoice_id", invoiceID), zap.Error(err))
		}
	})
}

func (l *Ledger) cancelAutoApprove(invoiceID uint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[invoiceID]; ok {
		t.Stop()
		delete(l.timers, invoiceID)
	}
}

// Approve settles a pending invoice and carries out what it bought. The
// status transition happens first and wins at most once; a second
// approval of the same invoice returns ErrAlreadyProcessed and touches
// nothing. A fulfillment failure after the claim unwinds the invoice to
// rejected and refunds any wallet portion, so a failed purchase never
// ends up approved.
func (l *Ledger) Approve(ctx context.Context, req ApprovalRequest) error {
	l.cancelAutoApprove(req.InvoiceID)

	invoice, err := l.invoices.FindByID(req.InvoiceID)
	if err != nil {
		return fmt.Errorf("load invoice %d: %w", req.InvoiceID, err)
	}

	claimed, err := l.invoices.Transition(req.InvoiceID, models.InvoiceStatusApproved)
	if err != nil {
		return fmt.Errorf("approve invoice %d: %w", req.InvoiceID, err)
	}
	if !claimed {
		return ErrAlreadyProcessed
	}

	l.log.Info("invoice approved",
		zap.Uint("invoice_id", invoice.ID),
		zap.String("type", string(invoice.Type)),
		zap.String("actor", string(req.Actor)))

	if err := l.fulfill(ctx, invoice); err != nil {
		// We hold the claim, so unwinding to rejected cannot race
		// another settler.
		if uErr := l.invoices.SetStatus(invoice.ID, models.InvoiceStatusRejected); uErr != nil {
			l.log.Error("CRITICAL: fulfillment failed and invoice unwind failed, manual intervention required",
				zap.Uint("invoice_id", invoice.ID), zap.Error(uErr))
		}
		l.log.Error("fulfillment failed, invoice marked rejected",
			zap.Uint("invoice_id", invoice.ID),
			zap.String("type", string(invoice.Type)),
			zap.Int64("telegram_id", invoice.TelegramID),
			zap.Error(err))
		if rErr := l.refundWalletPortion(invoice); rErr != nil {
			l.notifier.SendToAdmin(ctx, fmt.Sprintf(
				"🚨 Invoice #%d failed and its wallet refund failed too: %v", invoice.ID, rErr))
			return rErr
		}
		l.notifier.SendToAdmin(ctx, fmt.Sprintf(
			"🚨 Invoice #%d could not be fulfilled and was rejected: %v", invoice.ID, err))
		return fmt.Errorf("%w: %v", ErrRemoteMutationFailed, err)
	}

	l.notifier.SendToCustomer(ctx, invoice.TelegramID, fmt.Sprintf(
		"✅ Your payment of %s Toman for invoice #%d was confirmed.",
		utils.FormatNumber(invoice.Price), invoice.ID))
	return nil
}

// Reject settles a pending invoice as rejected and refunds any wallet
// portion that was debited when it was created.
func (l *Ledger) Reject(ctx context.Context, req ApprovalRequest) error {
	l.cancelAutoApprove(req.InvoiceID)

	invoice, err := l.invoices.FindByID(req.InvoiceID)
	if err != nil {
		return fmt.Errorf("load invoice %d: %w", req.InvoiceID, err)
	}

	claimed, err := l.invoices.Transition(req.InvoiceID, models.InvoiceStatusRejected)
	if err != nil {
		return fmt.Errorf("reject invoice %d: %w", req.InvoiceID, err)
	}
	if !claimed {
		return ErrAlreadyProcessed
	}

	if err := l.refundWalletPortion(invoice); err != nil {
		return err
	}

	l.log.Info("invoice rejected",
		zap.Uint("invoice_id", invoice.ID), zap.String("actor", string(req.Actor)))
	l.notifier.SendToCustomer(ctx, invoice.TelegramID, fmt.Sprintf(
		"❌ Your payment for invoice #%d was rejected.", invoice.ID))
	return nil
}

// ExpireStale moves pending invoices older than maxAge to expired and
// refunds their wallet portions. Invoices settled concurrently are
// skipped.
func (l *Ledger) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := l.invoices.FindPendingOlderThan(time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("find stale invoices: %w", err)
	}

	expired := 0
	for i := range stale {
		invoice := &stale[i]
		claimed, err := l.invoices.Transition(invoice.ID, models.InvoiceStatusExpired)
		if err != nil {
			l.log.Error("failed to expire invoice", zap.Uint("invoice_id", invoice.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		l.cancelAutoApprove(invoice.ID)
		if err := l.refundWalletPortion(invoice); err != nil {
			l.log.Error("failed to refund expired invoice",
				zap.Uint("invoice_id", invoice.ID), zap.Error(err))
		}
		expired++

		l.notifier.SendToCustomer(ctx, invoice.TelegramID, fmt.Sprintf(
			"⏰ Invoice #%d expired without payment confirmation.", invoice.ID))
	}

	if expired > 0 {
		l.log.Info("expired stale invoices", zap.Int("count", expired))
	}
	return expired, nil
}

func (l *Ledger) refundWalletPortion(invoice *models.Invoice) error {
	if invoice.WalletPortion <= 0 {
		return nil
	}
	if err := l.customers.IncreaseBalance(invoice.TelegramID, invoice.WalletPortion); err != nil {
		l.log.Error("CRITICAL: wallet refund failed, manual intervention required",
			zap.Uint("invoice_id", invoice.ID),
			zap.Int64("telegram_id", invoice.TelegramID),
			zap.Int64("amount", invoice.WalletPortion),
			zap.Error(err))
		return fmt.Errorf("%w: invoice %d", ErrCompensationFailed, invoice.ID)
	}
	l.log.Info("wallet portion refunded",
		zap.Uint("invoice_id", invoice.ID), zap.Int64("amount", invoice.WalletPortion))
	return nil
}

func (l *Ledger) fulfill(ctx context.Context, invoice *models.Invoice) error {
	plan := invoice.Plan()

	switch invoice.Type {
	case models.InvoiceTypeNewUser:
		_, err := l.provisioner.CreateUser(ctx, invoice.TelegramID, plan, invoice.Price)
		return err
	case models.InvoiceTypeRenewal:
		return l.provisioner.Renew(ctx, plan.Username, plan)
	case models.InvoiceTypeDataTopUp:
		return l.provisioner.TopUp(ctx, plan.Username, plan.VolumeGB)
	case models.InvoiceTypeWalletCharge:
		return l.customers.IncreaseBalance(invoice.TelegramID, invoice.Price)
	case models.InvoiceTypeManual:
		return nil
	default:
		return fmt.Errorf("unknown invoice type %q", invoice.Type)
	}
}
