package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"finstats/internal/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Wire shapes of the finance API. Amounts are decoded as json.Number so no
// precision is lost before decimal parsing.
type (
	namedAmountDTO struct {
		TransactionName string      `json:"transactionName" validate:"required"`
		Amount          json.Number `json:"amount" validate:"required,numeric"`
	}

	monthSummaryDTO struct {
		Month        int              `json:"month" validate:"min=1,max=12"`
		Transactions []namedAmountDTO `json:"transactions" validate:"dive"`
	}

	creditDebitDTO struct {
		Month        int         `json:"month" validate:"min=1,max=12"`
		CreditAmount json.Number `json:"creditAmount" validate:"required,numeric"`
		DebitAmount  json.Number `json:"debitAmount" validate:"required,numeric"`
	}

	auditLogDTO struct {
		ID              any         `json:"id" validate:"required"`
		TransactionName string      `json:"transactionName"`
		TransactionType string      `json:"transactionType"`
		Amount          json.Number `json:"amount" validate:"omitempty,numeric"`
		Action          string      `json:"action" validate:"required"`
		CreatedAt       string      `json:"createdAt" validate:"required"`
	}

	sessionDTO struct {
		Valid *bool `json:"valid" validate:"required"`
	}
)

// validateAll validates every element, reporting the first failing index.
func validateAll[T any](items []T) error {
	for i := range items {
		if err := validate.Struct(items[i]); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func amountOf(n json.Number) (core.Money, error) {
	if n == "" {
		return core.Money{}, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return core.Money{}, core.ErrInvalidAmount
	}
	return core.ParseAmount(d)
}

// Server timestamps come either with an offset or as a zone-less local time
// in the API's zone.
var createdAtLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseCreatedAt(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid createdAt %q", s)
}

func (d auditLogDTO) toEntry(loc *time.Location) (core.AuditLogEntry, error) {
	at, err := parseCreatedAt(d.CreatedAt, loc)
	if err != nil {
		return core.AuditLogEntry{}, err
	}
	amount, err := amountOf(d.Amount)
	if err != nil {
		return core.AuditLogEntry{}, err
	}
	entry := core.AuditLogEntry{
		ID:              fmt.Sprint(d.ID),
		TransactionName: d.TransactionName,
		Amount:          amount,
		Action:          core.ParseAction(d.Action),
		RawAction:       d.Action,
		OccurredAt:      at,
	}
	if dir, err := core.ParseDirection(d.TransactionType); err == nil {
		entry.Direction = dir
	}
	return entry, nil
}
