package controllers

import (
	"net/http"

	"github.com/unlockit/unlockit-backend/api/responses"
	"github.com/unlockit/unlockit-backend/api/validators"
	"github.com/unlockit/unlockit-backend/internal/transactions"
	"github.com/unlockit/unlockit-backend/internal/users"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/logger"
)

const maxTransactionPageSize = 100

type withdrawalRequest struct {
	AccountNumber string `json:"account_number" validate:"required"`
	AccountName   string `json:"account_name" validate:"required"`
	BankName      string `json:"bank_name" validate:"required"`
	BankCode      string `json:"bank_code" validate:"required"`
}

// TransactionList returns one page of the owner's ledger.
func TransactionList(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, maxTransactionPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := transactions.ListInput{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		}
		if raw := r.URL.Query().Get("kind"); raw != "" {
			kind := enums.TransactionKind(raw)
			if !kind.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown transaction kind"))
				return
			}
			input.Kind = &kind
		}

		result, err := svc.List(r.Context(), ownerID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// WithdrawalCreate drains the owner's wallet into a pending payout.
func WithdrawalCreate(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := ownerFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body withdrawalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.OpenWithdrawal(r.Context(), ownerID, users.BankDetails{
			AccountNumber: validators.SanitizeString(body.AccountNumber, 34),
			AccountName:   validators.SanitizeString(body.AccountName, 120),
			BankName:      validators.SanitizeString(body.BankName, 120),
			BankCode:      validators.SanitizeString(body.BankCode, 20),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, transactions.FromModel(row))
	}
}
