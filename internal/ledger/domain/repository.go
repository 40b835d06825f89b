package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidPhoneHash    = errors.New("invalid phone hash")
)

// LedgerTotals is a count/sum aggregate over a date window.
type LedgerTotals struct {
	Count      int64
	TotalCents int64
}

type Repository interface {
	// UpsertTransaction inserts the transaction or leaves an existing row
	// with the same (org, external id) untouched. Returns true on insert.
	UpsertTransaction(ctx context.Context, tx *Transaction) (bool, error)
	FindTransaction(ctx context.Context, orgID, txID snowflake.ID) (*Transaction, error)
	ListTransactions(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]Transaction, error)
	ListTransactionsWithRefcode(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]Transaction, error)
	AttachPhoneHash(ctx context.Context, orgID snowflake.ID, externalID, phoneHash string) error
	Totals(ctx context.Context, orgID snowflake.ID, from, to time.Time) (LedgerTotals, error)

	FindTouchpointByClickID(ctx context.Context, orgID snowflake.ID, clickID string) (*Touchpoint, error)
	FindTouchpointByCookie(ctx context.Context, orgID snowflake.ID, cookie string) (*Touchpoint, error)
	FindLatestTouchpointByEmail(ctx context.Context, orgID snowflake.ID, email string, before time.Time) (*Touchpoint, error)
	FindLatestLongFormTouchpointByEmail(ctx context.Context, orgID snowflake.ID, email string, before time.Time) (*Touchpoint, error)

	ListReviewableConversionEvents(ctx context.Context, orgID snowflake.ID, limit int) ([]ConversionEvent, error)
	MarkEventMisattributed(ctx context.Context, eventID snowflake.ID, metadata map[string]any) error
}
