package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// BuyerKey identifies a buyer account. The value is opaque to the
// ledger; the identity service owns its meaning.
type BuyerKey struct {
	value string
}

// Reference scopes duplicate detection for a transaction. Empty means
// the transaction carries no idempotency scope.
type Reference struct {
	value string
}

// MetadataJSON stores arbitrary transaction metadata.
type MetadataJSON struct {
	value string
}

// TransactionType enumerates the ledger transaction kinds.
type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionAuctionWin  TransactionType = "auction_win"
	TransactionRefund      TransactionType = "refund"
	TransactionBonus       TransactionType = "bonus"
	TransactionAdminAdjust TransactionType = "admin_adjust"
)

// String returns the stored transaction type value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// ParseTransactionType validates a raw transaction type value.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionPurchase, TransactionAuctionWin, TransactionRefund, TransactionBonus, TransactionAdminAdjust:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// NewBuyerKey validates and normalizes a buyer key.
func NewBuyerKey(raw string) (BuyerKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BuyerKey{}, fmt.Errorf("%w: empty value", ErrInvalidBuyerKey)
	}
	return BuyerKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key BuyerKey) String() string {
	return key.value
}

// NewReference validates and normalizes a transaction reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// IsZero reports whether the reference is unset.
func (reference Reference) IsZero() bool {
	return reference.value == ""
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// BuyerAccount is the cached-balance row for a buyer. The transaction
// log is the source of truth; the cached balance always equals the
// BalanceAfterCents of the buyer's most recent transaction.
type BuyerAccount struct {
	BuyerKey       string
	BalanceCents   int64
	CreatedUnixUTC int64
}

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	TransactionID      string
	BuyerKey           string
	Type               TransactionType
	AmountCents        int64
	BalanceBeforeCents int64
	BalanceAfterCents  int64
	Reference          string
	MetadataJSON       string
	CreatedUnixUTC     int64
}

// TransactionInput describes a balance change to record.
type TransactionInput struct {
	buyerKey    BuyerKey
	kind        TransactionType
	amountCents int64
	reference   Reference
	metadata    MetadataJSON
}

// NewTransactionInput validates a transaction request. Amount sign
// must match the transaction type: purchases, refunds, and bonuses
// credit; auction wins debit; admin adjustments may do either but
// never zero.
func NewTransactionInput(buyerKey BuyerKey, kind TransactionType, amountCents int64, reference Reference, metadata MetadataJSON) (TransactionInput, error) {
	if amountCents == 0 {
		return TransactionInput{}, fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmountCents)
	}
	switch kind {
	case TransactionPurchase, TransactionRefund, TransactionBonus:
		if amountCents < 0 {
			return TransactionInput{}, fmt.Errorf("%w: %s amount must be positive", ErrInvalidAmountCents, kind)
		}
	case TransactionAuctionWin:
		if amountCents > 0 {
			return TransactionInput{}, fmt.Errorf("%w: %s amount must be negative", ErrInvalidAmountCents, kind)
		}
	case TransactionAdminAdjust:
	default:
		return TransactionInput{}, fmt.Errorf("%w: %q", ErrInvalidTransactionType, kind)
	}
	return TransactionInput{
		buyerKey:    buyerKey,
		kind:        kind,
		amountCents: amountCents,
		reference:   reference,
		metadata:    metadata,
	}, nil
}

// BuyerKey returns the target buyer.
func (input TransactionInput) BuyerKey() BuyerKey {
	return input.buyerKey
}

// Type returns the transaction type.
func (input TransactionInput) Type() TransactionType {
	return input.kind
}

// AmountCents returns the signed amount.
func (input TransactionInput) AmountCents() int64 {
	return input.amountCents
}

// Reference returns the idempotency reference (possibly zero).
func (input TransactionInput) Reference() Reference {
	return input.reference
}

// Metadata returns the metadata blob.
func (input TransactionInput) Metadata() MetadataJSON {
	return input.metadata
}

// Store is the persistence contract used by the ledger. Timestamps
// come from the caller; the store never consults a wall clock. A zero
// beforeUnixUTC on ListTransactions means no cutoff.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateBuyerForUpdate(ctx context.Context, buyerKey BuyerKey, nowUnixUTC int64) (BuyerAccount, error)
	GetBuyer(ctx context.Context, buyerKey BuyerKey) (BuyerAccount, bool, error)
	UpdateBuyerBalance(ctx context.Context, buyerKey BuyerKey, fromCents int64, toCents int64) error
	InsertTransaction(ctx context.Context, transaction *Transaction) error
	FindTransactionByReference(ctx context.Context, reference Reference) (Transaction, bool, error)
	ListTransactions(ctx context.Context, buyerKey BuyerKey, beforeUnixUTC int64, limit int) ([]Transaction, error)
}
