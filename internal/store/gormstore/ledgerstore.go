package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/sourcewire/auctioncore/pkg/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultMetadataJSON = "{}"

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedger returns a LedgerStore backed by gorm.DB.
func NewLedger(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

func (store *LedgerStore) GetOrCreateBuyerForUpdate(ctx context.Context, buyerKey ledger.BuyerKey, nowUnixUTC int64) (ledger.BuyerAccount, error) {
	record := BuyerRecord{BuyerKey: buyerKey.String(), CreatedAt: time.Unix(nowUnixUTC, 0).UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "buyer_key"}},
			DoNothing: true,
		}).
		Create(&record).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return ledger.BuyerAccount{}, wrapStoreError(errorSubjectBuyer, errorCodeCreate, err)
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("buyer_key = ?", buyerKey.String()).
		Take(&record).Error
	if err != nil {
		return ledger.BuyerAccount{}, wrapStoreError(errorSubjectBuyer, errorCodeGet, err)
	}
	return mapBuyer(record), nil
}

func (store *LedgerStore) GetBuyer(ctx context.Context, buyerKey ledger.BuyerKey) (ledger.BuyerAccount, bool, error) {
	var record BuyerRecord
	err := store.db.WithContext(ctx).Where("buyer_key = ?", buyerKey.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.BuyerAccount{}, false, nil
	}
	if err != nil {
		return ledger.BuyerAccount{}, false, wrapStoreError(errorSubjectBuyer, errorCodeGet, err)
	}
	return mapBuyer(record), true, nil
}

func (store *LedgerStore) UpdateBuyerBalance(ctx context.Context, buyerKey ledger.BuyerKey, fromCents int64, toCents int64) error {
	result := store.db.WithContext(ctx).
		Model(&BuyerRecord{}).
		Where("buyer_key = ? AND balance_cents = ?", buyerKey.String(), fromCents).
		Update("balance_cents", toCents)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBuyer, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBuyer, errorCodeUpdate, ledger.ErrUnknownBuyer)
	}
	return nil
}

func (store *LedgerStore) InsertTransaction(ctx context.Context, transaction *ledger.Transaction) error {
	var reference *string
	if transaction.Reference != "" {
		reference = &transaction.Reference
	}
	record := TransactionRecord{
		TransactionID:      transaction.TransactionID,
		BuyerKey:           transaction.BuyerKey,
		Type:               transaction.Type.String(),
		AmountCents:        transaction.AmountCents,
		BalanceBeforeCents: transaction.BalanceBeforeCents,
		BalanceAfterCents:  transaction.BalanceAfterCents,
		Reference:          reference,
		Metadata:           metadataJSON(transaction.MetadataJSON),
		CreatedAt:          time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err, constraintTransactionReference) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction.TransactionID = record.TransactionID
	return nil
}

func (store *LedgerStore) FindTransactionByReference(ctx context.Context, reference ledger.Reference) (ledger.Transaction, bool, error) {
	var record TransactionRecord
	err := store.db.WithContext(ctx).Where("reference = ?", reference.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(record)
	if err != nil {
		return ledger.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return transaction, true, nil
}

func (store *LedgerStore) ListTransactions(ctx context.Context, buyerKey ledger.BuyerKey, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	query := store.db.WithContext(ctx).
		Where("buyer_key = ?", buyerKey.String()).
		Order("created_at DESC, transaction_id DESC")
	if beforeUnixUTC > 0 {
		query = query.Where("created_at < ?", time.Unix(beforeUnixUTC, 0).UTC())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []TransactionRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func mapBuyer(record BuyerRecord) ledger.BuyerAccount {
	return ledger.BuyerAccount{
		BuyerKey:       record.BuyerKey,
		BalanceCents:   record.BalanceCents,
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}
}

func mapTransaction(record TransactionRecord) (ledger.Transaction, error) {
	transactionType, err := ledger.ParseTransactionType(record.Type)
	if err != nil {
		return ledger.Transaction{}, err
	}
	reference := ""
	if record.Reference != nil {
		reference = *record.Reference
	}
	return ledger.Transaction{
		TransactionID:      record.TransactionID,
		BuyerKey:           record.BuyerKey,
		Type:               transactionType,
		AmountCents:        record.AmountCents,
		BalanceBeforeCents: record.BalanceBeforeCents,
		BalanceAfterCents:  record.BalanceAfterCents,
		Reference:          reference,
		MetadataJSON:       string(record.Metadata),
		CreatedUnixUTC:     record.CreatedAt.Unix(),
	}, nil
}

func metadataJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
