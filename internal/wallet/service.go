// Package wallet exposes the creator balance surface and its
// reconciliation invariant: the stored balance must equal settled payment
// credits minus non-failed withdrawals.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/internal/transactions"
	"github.com/unlockit/unlockit-backend/internal/users"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
)

// Balance is the owner-facing wallet snapshot.
type Balance struct {
	OwnerID uuid.UUID       `json:"owner_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Reconciliation reports the stored balance against the ledger-derived one.
type Reconciliation struct {
	Stored  decimal.Decimal `json:"stored"`
	Derived decimal.Decimal `json:"derived"`
	Drift   decimal.Decimal `json:"drift"`
	InSync  bool            `json:"in_sync"`
}

// Service reads wallet state.
type Service interface {
	Balance(ctx context.Context, ownerID uuid.UUID) (*Balance, error)
	Reconcile(ctx context.Context, ownerID uuid.UUID) (*Reconciliation, error)
}

type service struct {
	usersRepo *users.Repository
	txRepo    *transactions.Repository
}

// NewService constructs the wallet service.
func NewService(usersRepo *users.Repository, txRepo *transactions.Repository) (Service, error) {
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if txRepo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	return &service{usersRepo: usersRepo, txRepo: txRepo}, nil
}

// Balance returns the stored wallet balance.
func (s *service) Balance(ctx context.Context, ownerID uuid.UUID) (*Balance, error) {
	user, err := s.usersRepo.FindByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, err
	}
	return &Balance{OwnerID: ownerID, Amount: user.WalletBalance}, nil
}

// Reconcile recomputes the balance from the ledger and reports drift
// against the stored value. It never mutates either side.
func (s *service) Reconcile(ctx context.Context, ownerID uuid.UUID) (*Reconciliation, error) {
	user, err := s.usersRepo.FindByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, err
	}

	credits, err := s.txRepo.SumSettledPayments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	debits, err := s.txRepo.SumActiveWithdrawals(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	derived := credits.Sub(debits)
	drift := user.WalletBalance.Sub(derived)
	return &Reconciliation{
		Stored:  user.WalletBalance,
		Derived: derived,
		Drift:   drift,
		InSync:  drift.IsZero(),
	}, nil
}
