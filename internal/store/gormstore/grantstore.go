package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/sourcewire/auctioncore/pkg/grant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GrantStore implements grant.Store using GORM.
type GrantStore struct {
	db *gorm.DB
}

// NewGrants returns a GrantStore backed by gorm.DB.
func NewGrants(db *gorm.DB) *GrantStore {
	return &GrantStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *GrantStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore grant.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &GrantStore{db: transaction})
	})
}

func (store *GrantStore) InsertGrant(ctx context.Context, issued *grant.Grant) error {
	record := GrantRecord{
		GrantID:       issued.GrantID,
		BuyerKey:      issued.BuyerKey,
		ContentID:     issued.ContentID,
		AuctionID:     issued.AuctionID,
		AmountCents:   issued.AmountCents,
		TokenID:       issued.TokenID,
		DownloadsUsed: issued.DownloadsUsed,
		MaxDownloads:  issued.MaxDownloads,
		ExpiresAt:     time.Unix(issued.ExpiresAtUnixUTC, 0).UTC(),
		Status:        issued.Status.String(),
		CreatedAt:     time.Unix(issued.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err, constraintGrantAuction) {
		return wrapStoreError(errorSubjectGrant, errorCodeDuplicate, grant.ErrGrantConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectGrant, errorCodeInsert, err)
	}
	return nil
}

func (store *GrantStore) GetGrant(ctx context.Context, grantID string) (grant.Grant, bool, error) {
	return store.getGrant(ctx, grantID, false)
}

func (store *GrantStore) GetGrantForUpdate(ctx context.Context, grantID string) (grant.Grant, bool, error) {
	return store.getGrant(ctx, grantID, true)
}

func (store *GrantStore) getGrant(ctx context.Context, grantID string, forUpdate bool) (grant.Grant, bool, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record GrantRecord
	err := query.Where("grant_id = ?", grantID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return grant.Grant{}, false, nil
	}
	if err != nil {
		return grant.Grant{}, false, wrapStoreError(errorSubjectGrant, errorCodeGet, err)
	}
	status, err := grant.ParseStatus(record.Status)
	if err != nil {
		return grant.Grant{}, false, wrapStoreError(errorSubjectGrant, errorCodeGet, err)
	}
	return grant.Grant{
		GrantID:          record.GrantID,
		BuyerKey:         record.BuyerKey,
		ContentID:        record.ContentID,
		AuctionID:        record.AuctionID,
		AmountCents:      record.AmountCents,
		TokenID:          record.TokenID,
		DownloadsUsed:    record.DownloadsUsed,
		MaxDownloads:     record.MaxDownloads,
		ExpiresAtUnixUTC: record.ExpiresAt.Unix(),
		Status:           status,
		CreatedUnixUTC:   record.CreatedAt.Unix(),
	}, true, nil
}

func (store *GrantStore) IncrementDownloads(ctx context.Context, grantID string, fromUsed int, toUsed int) error {
	result := store.db.WithContext(ctx).
		Model(&GrantRecord{}).
		Where("grant_id = ? AND downloads_used = ?", grantID, fromUsed).
		Update("downloads_used", toUsed)
	if result.Error != nil {
		return wrapStoreError(errorSubjectGrant, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectGrant, errorCodeUpdate, grant.ErrGrantConflict)
	}
	return nil
}

func (store *GrantStore) UpdateGrantStatus(ctx context.Context, grantID string, from grant.Status, to grant.Status) error {
	result := store.db.WithContext(ctx).
		Model(&GrantRecord{}).
		Where("grant_id = ? AND status = ?", grantID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectGrant, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectGrant, errorCodeUpdateStatus, grant.ErrGrantRevoked)
	}
	return nil
}
