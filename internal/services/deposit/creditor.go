package deposit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tradeos/walletcore/internal/domain/wallet"
	"github.com/tradeos/walletcore/internal/metrics"
	"github.com/tradeos/walletcore/internal/storage"
	"github.com/tradeos/walletcore/pkg/logger"
)

// CreditRequest carries everything needed to settle a detected deposit.
type CreditRequest struct {
	Session       wallet.DepositSession
	Amount        float64 // native units
	Confirmations int
	TxHash        string
	PriceUSD      float64
	PriceSource   string // "oracle" or "fallback"
}

// CreditResult reports the settled session and whether the call was a
// duplicate of an earlier credit.
type CreditResult struct {
	Session         wallet.DepositSession
	Entry           wallet.LedgerEntry
	AlreadyCredited bool
}

// Creditor settles detected deposits into the USD ledger. The store performs
// the whole credit as one atomic unit, so a session can never be credited
// twice and a ledger entry can never appear without its balance increment.
type Creditor struct {
	deposits storage.DepositStore
	log      *logger.Logger
}

// NewCreditor creates a ledger creditor.
func NewCreditor(deposits storage.DepositStore, log *logger.Logger) *Creditor {
	if log == nil {
		log = logger.NewDefault("deposit-creditor")
	}
	return &Creditor{deposits: deposits, log: log}
}

// Credit transitions the session to its credited status and books the USD
// value. Late arrivals (past expires_at) are still credited, marked
// LATE_CONFIRMED.
func (c *Creditor) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if req.Amount <= 0 {
		return CreditResult{}, fmt.Errorf("credit amount must be positive, got %f", req.Amount)
	}

	late := time.Now().UTC().After(req.Session.ExpiresAt)
	status := wallet.StatusConfirmed
	if late {
		status = wallet.StatusLateConfirmed
	}

	creditUSD := req.Amount * req.PriceUSD
	outcome, err := c.deposits.CreditDeposit(ctx, storage.CreditParams{
		SessionID:      req.Session.ID,
		Status:         status,
		DetectedAmount: req.Amount,
		Confirmations:  req.Confirmations,
		TxHash:         req.TxHash,
		IsLate:         late,
		CreditUSD:      creditUSD,
		Metadata: map[string]string{
			"network":       string(req.Session.Network),
			"session_id":    req.Session.ID,
			"tx_hash":       req.TxHash,
			"amount_native": strconv.FormatFloat(req.Amount, 'f', -1, 64),
			"price_usd":     strconv.FormatFloat(req.PriceUSD, 'f', -1, 64),
			"price_source":  req.PriceSource,
		},
	})
	if err != nil {
		return CreditResult{}, err
	}
	if outcome.AlreadyCredited {
		c.log.WithField("session_id", req.Session.ID).Debug("session already credited; skipping")
		return CreditResult{Session: outcome.Session, AlreadyCredited: true}, nil
	}

	metrics.RecordDepositCredited(string(req.Session.Network), string(status))
	c.log.WithField("session_id", req.Session.ID).
		Infof("credited %.2f USD (%f %s native, price source %s, late=%t)",
			creditUSD, req.Amount, req.Session.Network, req.PriceSource, late)
	return CreditResult{Session: outcome.Session, Entry: outcome.Entry}, nil
}
