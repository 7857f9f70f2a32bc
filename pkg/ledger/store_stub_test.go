package ledger

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store for service tests.
type stubStore struct {
	accounts     map[string]BuyerAccount
	transactions []Transaction
	nextID       int
	insertErr    error
}

func newStubStore() *stubStore {
	return &stubStore{accounts: map[string]BuyerAccount{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	snapshotAccounts := make(map[string]BuyerAccount, len(store.accounts))
	for key, account := range store.accounts {
		snapshotAccounts[key] = account
	}
	snapshotTransactions := append([]Transaction(nil), store.transactions...)
	snapshotNextID := store.nextID
	if err := fn(ctx, store); err != nil {
		store.accounts = snapshotAccounts
		store.transactions = snapshotTransactions
		store.nextID = snapshotNextID
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateBuyerForUpdate(ctx context.Context, buyerKey BuyerKey, nowUnixUTC int64) (BuyerAccount, error) {
	account, ok := store.accounts[buyerKey.String()]
	if !ok {
		account = BuyerAccount{BuyerKey: buyerKey.String(), CreatedUnixUTC: nowUnixUTC}
		store.accounts[buyerKey.String()] = account
	}
	return account, nil
}

func (store *stubStore) GetBuyer(ctx context.Context, buyerKey BuyerKey) (BuyerAccount, bool, error) {
	account, ok := store.accounts[buyerKey.String()]
	return account, ok, nil
}

func (store *stubStore) UpdateBuyerBalance(ctx context.Context, buyerKey BuyerKey, fromCents int64, toCents int64) error {
	account, ok := store.accounts[buyerKey.String()]
	if !ok || account.BalanceCents != fromCents {
		return ErrUnknownBuyer
	}
	account.BalanceCents = toCents
	store.accounts[buyerKey.String()] = account
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction *Transaction) error {
	if store.insertErr != nil {
		return store.insertErr
	}
	store.nextID++
	transaction.TransactionID = fmt.Sprintf("txn-%d", store.nextID)
	store.transactions = append(store.transactions, *transaction)
	return nil
}

func (store *stubStore) FindTransactionByReference(ctx context.Context, reference Reference) (Transaction, bool, error) {
	for _, transaction := range store.transactions {
		if transaction.Reference == reference.String() {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *stubStore) ListTransactions(ctx context.Context, buyerKey BuyerKey, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	var newestFirst []Transaction
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if transaction.BuyerKey != buyerKey.String() {
			continue
		}
		if beforeUnixUTC != 0 && transaction.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		newestFirst = append(newestFirst, transaction)
		if limit > 0 && len(newestFirst) == limit {
			break
		}
	}
	return newestFirst, nil
}

func (store *stubStore) transactionsFor(buyerKey BuyerKey) []Transaction {
	var matching []Transaction
	for _, transaction := range store.transactions {
		if transaction.BuyerKey == buyerKey.String() {
			matching = append(matching, transaction)
		}
	}
	return matching
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 100 })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustBuyerKey(test *testing.T, raw string) BuyerKey {
	test.Helper()
	value, err := NewBuyerKey(raw)
	if err != nil {
		test.Fatalf("buyer key: %v", err)
	}
	return value
}

func mustTransactionInput(test *testing.T, buyerKey BuyerKey, kind TransactionType, amountCents int64, rawReference string) TransactionInput {
	test.Helper()
	var reference Reference
	if rawReference != "" {
		parsed, err := NewReference(rawReference)
		if err != nil {
			test.Fatalf("reference: %v", err)
		}
		reference = parsed
	}
	metadata, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	input, err := NewTransactionInput(buyerKey, kind, amountCents, reference, metadata)
	if err != nil {
		test.Fatalf("transaction input: %v", err)
	}
	return input
}
