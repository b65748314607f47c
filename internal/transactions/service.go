package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/internal/payments"
	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/pkg/db"
	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
	"github.com/unlockit/unlockit-backend/pkg/outbox"
	"github.com/unlockit/unlockit-backend/pkg/outbox/payloads"
	"github.com/unlockit/unlockit-backend/pkg/reference"
)

const (
	maxReferenceAttempts = 5

	transactionReferenceIndex = "idx_transactions_reference"
)

// ErrReferenceExhausted is returned when reference generation keeps
// colliding with existing rows.
var ErrReferenceExhausted = pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique reference")

// Service exposes the ledger operations: opening payments and withdrawals
// and reconciling provider settlement state.
type Service interface {
	OpenPayment(ctx context.Context, story *models.Story, buyerEmail string) (*models.Transaction, error)
	Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error)
	OpenWithdrawal(ctx context.Context, ownerID uuid.UUID, details users.BankDetails) (*models.Transaction, error)
	List(ctx context.Context, ownerID uuid.UUID, input ListInput) (*TransactionListResult, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type uniqueViolationChecker func(err error, constraintName string) bool

type service struct {
	dbClient      *db.Client
	repo          *Repository
	usersRepo     *users.Repository
	gateway       payments.Gateway
	events        eventEmitter
	logg          *logger.Logger
	isUniqueError uniqueViolationChecker
}

// NewService constructs the ledger service.
func NewService(dbClient *db.Client, repo *Repository, usersRepo *users.Repository, gateway payments.Gateway, events eventEmitter, logg *logger.Logger, uniqueCheck uniqueViolationChecker) (Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if events == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	if uniqueCheck == nil {
		return nil, fmt.Errorf("unique violation checker required")
	}
	return &service{
		dbClient:      dbClient,
		repo:          repo,
		usersRepo:     usersRepo,
		gateway:       gateway,
		events:        events,
		logg:          logg,
		isUniqueError: uniqueCheck,
	}, nil
}

// OpenPayment creates the PENDING payment row a checkout session settles
// against. It exists before the buyer ever reaches the provider.
func (s *service) OpenPayment(ctx context.Context, story *models.Story, buyerEmail string) (*models.Transaction, error) {
	return s.createWithFreshReference(ctx, s.repo, func(ref string) *models.Transaction {
		return &models.Transaction{
			ID:            uuid.New(),
			OwnerID:       story.OwnerID,
			StoryID:       &story.ID,
			Email:         buyerEmail,
			PayableAmount: story.Price,
			Kind:          enums.TransactionKindPayment,
			Status:        enums.TransactionStatusPending,
			Reference:     ref,
		}
	})
}

// Reconcile applies the authoritative provider state to the ledger row in
// one DB transaction under a row lock. Settling credits the owner's wallet
// in the same transaction; an already settled row is never mutated again.
func (s *service) Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	result := &ReconcileResult{Outcome: ReconcileUnrecognized}

	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		row, err := repo.FindByReferenceForUpdate(ctx, input.Reference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Outcome = ReconcileNotFound
				return nil
			}
			return err
		}
		if row.Kind != enums.TransactionKindPayment {
			result.Outcome = ReconcileUnrecognized
			result.Transaction = row
			return nil
		}
		if row.Status == enums.TransactionStatusSuccess {
			result.Outcome = ReconcileAlreadySettled
			result.Transaction = row
			return nil
		}

		if input.RawPayload != nil {
			row.MetaData = input.RawPayload
		}
		if input.ProviderReference != "" {
			row.ProviderReference = &input.ProviderReference
		}

		switch input.State {
		case SettlementPaid:
			row.Status = enums.TransactionStatusSuccess
			row.WithdrawableAmount = input.AmountReceived
			if err := repo.Save(ctx, row); err != nil {
				return err
			}
			if err := s.usersRepo.WithTx(tx).CreditWallet(ctx, row.OwnerID, input.AmountReceived); err != nil {
				return err
			}
			if err := s.emitSettled(ctx, tx, row); err != nil {
				return err
			}
			result.Outcome = ReconcileSettled

		case SettlementProcessing:
			row.Status = enums.TransactionStatusPending
			if err := repo.Save(ctx, row); err != nil {
				return err
			}
			result.Outcome = ReconcilePending

		case SettlementFailed:
			row.Status = enums.TransactionStatusFailed
			if err := repo.Save(ctx, row); err != nil {
				return err
			}
			if err := s.emitFailed(ctx, tx, row); err != nil {
				return err
			}
			result.Outcome = ReconcileFailed

		default:
			result.Outcome = ReconcileUnrecognized
		}

		result.Transaction = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OpenWithdrawal snapshots the wallet balance into a PENDING withdrawal,
// debits the wallet in the same transaction, provisions the payee bank
// account when the details changed, and requests the payout. A payout
// request failure marks the row failed and re-credits the balance.
func (s *service) OpenWithdrawal(ctx context.Context, ownerID uuid.UUID, details users.BankDetails) (*models.Transaction, error) {
	user, err := s.usersRepo.FindByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, err
	}
	if !user.WalletBalance.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing to withdraw")
	}
	amount := user.WalletBalance

	if err := s.ensurePayee(ctx, user, details); err != nil {
		return nil, err
	}

	var row *models.Transaction
	err = s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		row, err = s.createWithFreshReference(ctx, repo, func(ref string) *models.Transaction {
			return &models.Transaction{
				ID:                 uuid.New(),
				OwnerID:            ownerID,
				Email:              user.Email,
				PayableAmount:      amount,
				WithdrawableAmount: amount,
				Kind:               enums.TransactionKindWithdrawal,
				Status:             enums.TransactionStatusPending,
				Reference:          ref,
				AccountNumber:      &details.AccountNumber,
				AccountName:        &details.AccountName,
				BankName:           &details.BankName,
				BankCode:           &details.BankCode,
			}
		})
		if err != nil {
			return err
		}
		if err := s.usersRepo.WithTx(tx).DebitWallet(ctx, ownerID, amount); err != nil {
			return err
		}
		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWithdrawalRequested,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{UserID: ownerID},
			Data: payloads.WithdrawalRequestedEvent{
				TransactionID:        row.ID,
				TransactionReference: row.Reference,
				OwnerID:              ownerID,
				Amount:               amount,
				BankName:             details.BankName,
				AccountNumber:        details.AccountNumber,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	payeeAccount := ""
	if user.PayeeAccountID != nil {
		payeeAccount = *user.PayeeAccountID
	}
	payoutID, payoutErr := s.gateway.IssuePayout(ctx, payments.PayoutInput{
		PayeeAccountID: payeeAccount,
		Amount:         amount,
		Reference:      row.Reference,
	})
	if payoutErr != nil {
		if rbErr := s.failWithdrawal(ctx, row, amount); rbErr != nil && s.logg != nil {
			s.logg.Error(s.logg.WithTransactionRef(ctx, row.Reference),
				"failed to roll back withdrawal after payout error", rbErr)
		}
		return nil, payoutErr
	}

	row.Status = enums.TransactionStatusInProgress
	row.ProviderReference = &payoutID
	if err := s.repo.Save(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// List returns one page of the owner's ledger.
func (s *service) List(ctx context.Context, ownerID uuid.UUID, input ListInput) (*TransactionListResult, error) {
	rows, next, err := s.repo.ListByOwner(ctx, ownerID, input)
	if err != nil {
		return nil, err
	}

	items := make([]TransactionDTO, 0, len(rows))
	for i := range rows {
		items = append(items, FromModel(&rows[i]))
	}
	return &TransactionListResult{Items: items, NextCursor: next}, nil
}

func (s *service) ensurePayee(ctx context.Context, user *models.User, details users.BankDetails) error {
	if user.PayeeAccountID == nil {
		accountID, err := s.gateway.CreatePayeeAccount(ctx, user.Email)
		if err != nil {
			return err
		}
		if err := s.usersRepo.UpdatePayeeAccount(ctx, user.ID, accountID); err != nil {
			return err
		}
		user.PayeeAccountID = &accountID
	}

	if details.Matches(user) {
		return nil
	}
	bankAccountID, err := s.gateway.CreateBankAccount(ctx, *user.PayeeAccountID, details)
	if err != nil {
		return err
	}
	if err := s.usersRepo.UpdateBankDetails(ctx, user.ID, bankAccountID, details); err != nil {
		return err
	}
	user.BankAccountID = &bankAccountID
	return nil
}

func (s *service) failWithdrawal(ctx context.Context, row *models.Transaction, amount decimal.Decimal) error {
	return s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		row.Status = enums.TransactionStatusFailed
		if err := s.repo.WithTx(tx).Save(ctx, row); err != nil {
			return err
		}
		return s.usersRepo.WithTx(tx).CreditWallet(ctx, row.OwnerID, amount)
	})
}

func (s *service) createWithFreshReference(ctx context.Context, repo *Repository, build func(ref string) *models.Transaction) (*models.Transaction, error) {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref, err := reference.Transaction()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating transaction reference")
		}

		row := build(ref)
		err = repo.Create(ctx, row)
		if err == nil {
			return row, nil
		}
		if s.isUniqueError(err, transactionReferenceIndex) {
			continue
		}
		return nil, err
	}
	return nil, ErrReferenceExhausted
}

func (s *service) emitSettled(ctx context.Context, tx *gorm.DB, row *models.Transaction) error {
	data := payloads.PaymentSettledEvent{
		TransactionID:        row.ID,
		TransactionReference: row.Reference,
		OwnerID:              row.OwnerID,
		BuyerEmail:           row.Email,
		Amount:               row.WithdrawableAmount,
		SettledAt:            time.Now().UTC(),
	}
	if row.StoryID != nil {
		data.StoryID = *row.StoryID
	}
	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   row.ID,
		Data:          data,
		Version:       1,
	})
}

func (s *service) emitFailed(ctx context.Context, tx *gorm.DB, row *models.Transaction) error {
	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   row.ID,
		Data: payloads.PaymentFailedEvent{
			TransactionID:        row.ID,
			TransactionReference: row.Reference,
			BuyerEmail:           row.Email,
		},
		Version: 1,
	})
}
