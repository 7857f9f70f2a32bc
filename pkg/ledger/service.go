package ledger

import (
	"context"
	"fmt"
)

// Service contains the ledger domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Record applies a balance change in its own transaction.
func (service *Service) Record(ctx context.Context, input TransactionInput) (Transaction, error) {
	var recorded Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		recorded, err = RecordTransaction(ctx, transactionStore, service.nowFn(), input)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationRecord,
		BuyerKey:    input.BuyerKey(),
		Type:        input.Type(),
		AmountCents: input.AmountCents(),
		Reference:   input.Reference(),
		Error:       operationError,
	})
	return recorded, operationError
}

// Balance returns the buyer's point-in-time balance. Unknown buyers
// read as zero; an account row is only created on first write.
func (service *Service) Balance(ctx context.Context, buyerKey BuyerKey) (int64, error) {
	account, found, err := service.store.GetBuyer(ctx, buyerKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return account.BalanceCents, nil
}

// ListTransactions lists ledger transactions for a buyer before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, buyerKey BuyerKey, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, buyerKey, beforeUnixUTC, limit)
}

// RecordTransaction is the single mutation point for buyer balances
// system-wide. It must run inside a transaction (the provided store is
// the transaction view): it locks the buyer row, rejects changes that
// would drive the balance negative, and writes the transaction line
// and the cached balance as one unit. A non-zero reference that was
// already recorded returns the existing transaction with
// ErrDuplicateReference, making redelivery a safe no-op for callers.
func RecordTransaction(ctx context.Context, store Store, nowUnixUTC int64, input TransactionInput) (Transaction, error) {
	if !input.Reference().IsZero() {
		existing, found, err := store.FindTransactionByReference(ctx, input.Reference())
		if err != nil {
			return Transaction{}, err
		}
		if found {
			return existing, fmt.Errorf("%w: %s", ErrDuplicateReference, input.Reference().String())
		}
	}
	account, err := store.GetOrCreateBuyerForUpdate(ctx, input.BuyerKey(), nowUnixUTC)
	if err != nil {
		return Transaction{}, err
	}
	balanceAfter := account.BalanceCents + input.AmountCents()
	if balanceAfter < 0 {
		return Transaction{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientCredits, account.BalanceCents, input.AmountCents())
	}
	transaction := Transaction{
		BuyerKey:           input.BuyerKey().String(),
		Type:               input.Type(),
		AmountCents:        input.AmountCents(),
		BalanceBeforeCents: account.BalanceCents,
		BalanceAfterCents:  balanceAfter,
		Reference:          input.Reference().String(),
		MetadataJSON:       input.Metadata().String(),
		CreatedUnixUTC:     nowUnixUTC,
	}
	if err := store.InsertTransaction(ctx, &transaction); err != nil {
		return Transaction{}, err
	}
	if err := store.UpdateBuyerBalance(ctx, input.BuyerKey(), account.BalanceCents, balanceAfter); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
