package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

const (
	WindowToday Window = "TODAY"
	WindowMonth Window = "MONTH"
	WindowYear  Window = "YEAR"
)

const (
	ActionCreated       Action = "CREATED"
	ActionAmountUpdated Action = "AMOUNT_UPDATED"
	ActionAmountAdded   Action = "AMOUNT_ADDED"
	ActionDeleted       Action = "DELETED"
	ActionUnknown       Action = "UNKNOWN"
)

const (
	Light Mode = "light"
	Dark  Mode = "dark"
)

type (
	// Direction is the money flow of a transaction.
	Direction string

	// Window is a calendar-relative time window anchored at "now".
	Window string

	// Action is the kind of change an audit log entry records.
	Action string

	// Mode is the active display theme.
	Mode string

	Money struct {
		Cents int64
	}

	// TransactionRecord is a single money movement as read from a data source.
	TransactionRecord struct {
		ID          string
		Name        string
		Direction   Direction
		Amount      Money
		OccurredAt  time.Time
		CategoryKey string
	}

	// AuditLogEntry is one line of the transaction audit trail.
	// Entries keep the order in which the source returned them.
	AuditLogEntry struct {
		ID              string
		TransactionName string
		Direction       Direction
		Amount          Money
		Action          Action
		RawAction       string
		OccurredAt      time.Time
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidWindow    = errors.New("invalid window")
	ErrInvalidMode      = errors.New("invalid mode")
)

// ParseDirection accepts CREDIT/DEBIT in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case Credit:
		return Credit, nil
	case Debit:
		return Debit, nil
	}
	return "", ErrInvalidDirection
}

func (d Direction) IsValid() bool {
	return d == Credit || d == Debit
}

// Label is the human form shown in charts and tables.
func (d Direction) Label() string {
	switch d {
	case Credit:
		return "Credit"
	case Debit:
		return "Debit"
	}
	return string(d)
}

// ParseWindow accepts the wire names (TODAY, MONTH, YEAR) and the long
// forms THIS_MONTH / THIS_YEAR.
func ParseWindow(s string) (Window, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TODAY":
		return WindowToday, nil
	case "MONTH", "THIS_MONTH":
		return WindowMonth, nil
	case "YEAR", "THIS_YEAR":
		return WindowYear, nil
	}
	return "", ErrInvalidWindow
}

func (w Window) IsValid() bool {
	return w == WindowToday || w == WindowMonth || w == WindowYear
}

// Label is the human form shown in the filter bar.
func (w Window) Label() string {
	switch w {
	case WindowToday:
		return "Today"
	case WindowMonth:
		return "This month"
	case WindowYear:
		return "This year"
	}
	return string(w)
}

// Bounds returns the half-open interval [start, end) the window covers,
// computed in now's location.
func (w Window) Bounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	switch w {
	case WindowToday:
		start := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	case WindowMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	}
}

// ParseMode maps a theme name to a Mode; anything unknown is an error.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, nil
	case Dark:
		return Dark, nil
	}
	return "", ErrInvalidMode
}

// Toggle returns the opposite mode.
func (m Mode) Toggle() Mode {
	if m == Dark {
		return Light
	}
	return Dark
}

// ParseAction maps the audit trail's human readable action text to an Action.
// The server has used both "Transaction was deleted" and "DELETE" for deletions.
func ParseAction(s string) Action {
	switch strings.TrimSpace(s) {
	case "Created a new transaction":
		return ActionCreated
	case "Amount for this transaction has been updated":
		return ActionAmountUpdated
	case "Added money to this existing transaction":
		return ActionAmountAdded
	case "Transaction was deleted", "DELETE":
		return ActionDeleted
	}
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionCreated, ActionAmountUpdated, ActionAmountAdded, ActionDeleted:
		return Action(strings.ToUpper(strings.TrimSpace(s)))
	}
	return ActionUnknown
}

// Description is the sentence shown in the audit table.
func (a Action) Description() string {
	switch a {
	case ActionCreated:
		return "Created a new transaction"
	case ActionAmountUpdated:
		return "Amount for this transaction has been updated"
	case ActionAmountAdded:
		return "Added money to this existing transaction"
	case ActionDeleted:
		return "Transaction was deleted"
	}
	return "Unknown action"
}

// CategoryKeyFor returns the grouping key for a record: the category when
// present, otherwise the transaction name.
func CategoryKeyFor(name, category string) string {
	if c := strings.TrimSpace(category); c != "" {
		return c
	}
	return strings.TrimSpace(name)
}
