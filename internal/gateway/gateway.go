// Package gateway adapts payment-provider credit events into ledger
// transactions. The provider owns payment truth; this side only turns
// confirmed purchases into balance increases, safely under redelivery.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcewire/auctioncore/pkg/ledger"
)

const topUpReferencePrefix = "topup:"

// ErrInvalidEvent reports a malformed provider event.
var ErrInvalidEvent = errors.New("invalid gateway event")

// Event is a confirmed credit purchase delivered by the payment
// provider. ExternalRef is the provider's delivery identifier and the
// replay key.
type Event struct {
	BuyerKey    string
	AmountCents int64
	ExternalRef string
}

// Result reports the applied transaction. AlreadyApplied marks a
// redelivery that changed nothing.
type Result struct {
	Transaction    ledger.Transaction
	AlreadyApplied bool
}

// Adapter records provider events against the credit ledger.
type Adapter struct {
	ledgerService *ledger.Service
}

// New wires an Adapter.
func New(ledgerService *ledger.Service) (*Adapter, error) {
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger service is nil", ledger.ErrInvalidServiceConfig)
	}
	return &Adapter{ledgerService: ledgerService}, nil
}

// CreditsPurchased applies one confirmed purchase. The provider
// retries deliveries; the ledger reference topup:<externalRef> makes
// every retry after the first a no-op returning the original
// transaction.
func (adapter *Adapter) CreditsPurchased(ctx context.Context, event Event) (Result, error) {
	buyerKey, err := ledger.NewBuyerKey(event.BuyerKey)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.AmountCents <= 0 {
		return Result{}, fmt.Errorf("%w: non-positive amount %d", ErrInvalidEvent, event.AmountCents)
	}
	externalRef := strings.TrimSpace(event.ExternalRef)
	if externalRef == "" {
		return Result{}, fmt.Errorf("%w: empty external ref", ErrInvalidEvent)
	}
	reference, err := ledger.NewReference(topUpReferencePrefix + externalRef)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"source":"gateway","external_ref":%q}`, externalRef))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	input, err := ledger.NewTransactionInput(buyerKey, ledger.TransactionPurchase, event.AmountCents, reference, metadata)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	recorded, err := adapter.ledgerService.Record(ctx, input)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return Result{Transaction: recorded, AlreadyApplied: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Transaction: recorded}, nil
}
