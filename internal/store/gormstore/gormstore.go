package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sourcewire/auctioncore/pkg/auction"
	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionReference = "uniq_txn_reference"
	constraintGrantAuction         = "uniq_grant_auction"
	constraintEarningAuction       = "uniq_earning_auction"
	constraintAuctionContent       = "uniq_auction_content"
	constraintContentPublicID      = "uniq_content_public_id"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	errorOperationStore            = "store"
	errorSubjectContent            = "content"
	errorSubjectAuction            = "auction"
	errorSubjectBid                = "bid"
	errorSubjectBuyer              = "buyer"
	errorSubjectTransaction        = "transaction"
	errorSubjectGrant              = "grant"
	errorSubjectEarning            = "earning"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeGet                   = "get"
	errorCodeInsert                = "insert"
	errorCodeList                  = "list"
	errorCodeUpdate                = "update"
	errorCodeUpdateStatus          = "update_status"
)

// Store implements auction.Store using GORM. Ledger and Grants return
// views over the same gorm.DB handle, so inside WithTx all three
// contracts share one transaction.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore auction.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// Ledger returns the credit ledger view over the same handle.
func (store *Store) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

// Grants returns the grant view over the same handle.
func (store *Store) Grants() grant.Store {
	return &GrantStore{db: store.db}
}

func (store *Store) CreateContent(ctx context.Context, content *auction.ContentItem) error {
	record := ContentRecord{
		ContentID:    content.ContentID,
		PublicID:     content.PublicID,
		Category:     content.Category,
		Region:       content.Region,
		OwnerKey:     content.OwnerKey,
		RevenueShare: content.RevenueShare,
		Status:       string(content.Status),
		CreatedAt:    time.Unix(content.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err, constraintContentPublicID) {
		return wrapStoreError(errorSubjectContent, errorCodeDuplicate, auction.ErrContentExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectContent, errorCodeCreate, err)
	}
	content.ContentID = record.ContentID
	return nil
}

func (store *Store) GetContent(ctx context.Context, contentID string) (auction.ContentItem, bool, error) {
	var record ContentRecord
	err := store.db.WithContext(ctx).Where("content_id = ?", contentID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.ContentItem{}, false, nil
	}
	if err != nil {
		return auction.ContentItem{}, false, wrapStoreError(errorSubjectContent, errorCodeGet, err)
	}
	return mapContent(record), true, nil
}

func (store *Store) FindContentByPublicID(ctx context.Context, publicID string) (auction.ContentItem, bool, error) {
	var record ContentRecord
	err := store.db.WithContext(ctx).Where("public_id = ?", publicID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.ContentItem{}, false, nil
	}
	if err != nil {
		return auction.ContentItem{}, false, wrapStoreError(errorSubjectContent, errorCodeGet, err)
	}
	return mapContent(record), true, nil
}

func (store *Store) CreateAuction(ctx context.Context, opened *auction.Auction) error {
	record := AuctionRecord{
		AuctionID:        opened.AuctionID,
		ContentID:        opened.ContentID,
		Status:           opened.Status.String(),
		EndsAt:           time.Unix(opened.EndsAtUnixUTC, 0).UTC(),
		CurrentBidCents:  opened.CurrentBidCents,
		CurrentBidderKey: opened.CurrentBidderKey,
		BidCount:         opened.BidCount,
		CreatedAt:        time.Unix(opened.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err, constraintAuctionContent) {
		return wrapStoreError(errorSubjectAuction, errorCodeDuplicate, auction.ErrAuctionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAuction, errorCodeCreate, err)
	}
	opened.AuctionID = record.AuctionID
	return nil
}

func (store *Store) GetAuction(ctx context.Context, auctionID string) (auction.Auction, bool, error) {
	return store.getAuction(ctx, auctionID, false)
}

func (store *Store) GetAuctionForUpdate(ctx context.Context, auctionID string) (auction.Auction, bool, error) {
	return store.getAuction(ctx, auctionID, true)
}

func (store *Store) getAuction(ctx context.Context, auctionID string, forUpdate bool) (auction.Auction, bool, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record AuctionRecord
	err := query.Where("auction_id = ?", auctionID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.Auction{}, false, nil
	}
	if err != nil {
		return auction.Auction{}, false, wrapStoreError(errorSubjectAuction, errorCodeGet, err)
	}
	return mapAuction(record), true, nil
}

func (store *Store) GetAuctionByContentID(ctx context.Context, contentID string) (auction.Auction, bool, error) {
	var record AuctionRecord
	err := store.db.WithContext(ctx).Where("content_id = ?", contentID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.Auction{}, false, nil
	}
	if err != nil {
		return auction.Auction{}, false, wrapStoreError(errorSubjectAuction, errorCodeGet, err)
	}
	return mapAuction(record), true, nil
}

func (store *Store) UpdateAuctionBid(ctx context.Context, auctionID string, amountCents int64, bidderKey string, bidCount int64, endsAtUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&AuctionRecord{}).
		Where("auction_id = ?", auctionID).
		Updates(map[string]interface{}{
			"current_bid_cents":  amountCents,
			"current_bidder_key": bidderKey,
			"bid_count":          bidCount,
			"ends_at":            time.Unix(endsAtUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAuction, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAuction, errorCodeUpdate, auction.ErrAuctionNotFound)
	}
	return nil
}

func (store *Store) TransitionAuctionStatus(ctx context.Context, auctionID string, from auction.Status, to auction.Status) error {
	result := store.db.WithContext(ctx).
		Model(&AuctionRecord{}).
		Where("auction_id = ? AND status = ?", auctionID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectAuction, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAuction, errorCodeUpdateStatus, auction.ErrAuctionConflict)
	}
	return nil
}

func (store *Store) ListAuctions(ctx context.Context, filter auction.Filter) ([]auction.AuctionWithContent, error) {
	type directoryRow struct {
		AuctionRecord
		PublicID       string
		Category       string
		Region         string
		OwnerKey       string
		RevenueShare   bool
		ContentStatus  string
		ContentCreated time.Time
	}
	query := store.db.WithContext(ctx).
		Model(&AuctionRecord{}).
		Select("auctions.*, content_items.public_id, content_items.category, content_items.region, content_items.owner_key, content_items.revenue_share, content_items.status as content_status, content_items.created_at as content_created").
		Joins("JOIN content_items ON content_items.content_id = auctions.content_id").
		Where("auctions.status = ?", auction.StatusActive.String())
	if filter.Category != "" {
		query = query.Where("content_items.category = ?", filter.Category)
	}
	if filter.Region != "" {
		query = query.Where("content_items.region = ?", filter.Region)
	}
	switch filter.Sort {
	case auction.SortNewest:
		query = query.Order("auctions.created_at DESC")
	case auction.SortHighestBid:
		query = query.Order("auctions.current_bid_cents DESC")
	default:
		query = query.Order("auctions.ends_at ASC")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []directoryRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAuction, errorCodeList, err)
	}
	listings := make([]auction.AuctionWithContent, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, auction.AuctionWithContent{
			Auction: mapAuction(row.AuctionRecord),
			Content: auction.ContentItem{
				ContentID:      row.ContentID,
				PublicID:       row.PublicID,
				Category:       row.Category,
				Region:         row.Region,
				OwnerKey:       row.OwnerKey,
				RevenueShare:   row.RevenueShare,
				Status:         auction.ContentStatus(row.ContentStatus),
				CreatedUnixUTC: row.ContentCreated.Unix(),
			},
		})
	}
	return listings, nil
}

func (store *Store) ListDueAuctionIDs(ctx context.Context, nowUnixUTC int64, limit int) ([]string, error) {
	query := store.db.WithContext(ctx).
		Model(&AuctionRecord{}).
		Where("status = ? AND ends_at <= ?", auction.StatusActive.String(), time.Unix(nowUnixUTC, 0).UTC()).
		Order("ends_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var auctionIDs []string
	if err := query.Pluck("auction_id", &auctionIDs).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAuction, errorCodeList, err)
	}
	return auctionIDs, nil
}

func (store *Store) InsertBid(ctx context.Context, bid *auction.Bid) error {
	record := BidRecord{
		BidID:       bid.BidID,
		AuctionID:   bid.AuctionID,
		BidderKey:   bid.BidderKey,
		AmountCents: bid.AmountCents,
		IsWinning:   bid.IsWinning,
		Invalidated: bid.Invalidated,
		CreatedAt:   time.Unix(bid.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectBid, errorCodeInsert, err)
	}
	bid.BidID = record.BidID
	return nil
}

func (store *Store) DemoteWinningBid(ctx context.Context, auctionID string) error {
	err := store.db.WithContext(ctx).
		Model(&BidRecord{}).
		Where("auction_id = ? AND is_winning", auctionID).
		Update("is_winning", false).Error
	if err != nil {
		return wrapStoreError(errorSubjectBid, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) InvalidateWinningBid(ctx context.Context, auctionID string) error {
	err := store.db.WithContext(ctx).
		Model(&BidRecord{}).
		Where("auction_id = ? AND is_winning", auctionID).
		Updates(map[string]interface{}{"is_winning": false, "invalidated": true}).Error
	if err != nil {
		return wrapStoreError(errorSubjectBid, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) GetWinningBid(ctx context.Context, auctionID string) (auction.Bid, bool, error) {
	var record BidRecord
	err := store.db.WithContext(ctx).
		Where("auction_id = ? AND is_winning", auctionID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.Bid{}, false, nil
	}
	if err != nil {
		return auction.Bid{}, false, wrapStoreError(errorSubjectBid, errorCodeGet, err)
	}
	return mapBid(record), true, nil
}

func (store *Store) ListBids(ctx context.Context, auctionID string, limit int) ([]auction.Bid, error) {
	query := store.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at DESC, bid_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []BidRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBid, errorCodeList, err)
	}
	bids := make([]auction.Bid, 0, len(rows))
	for _, row := range rows {
		bids = append(bids, mapBid(row))
	}
	return bids, nil
}

func (store *Store) InsertEarning(ctx context.Context, earning *auction.OwnerEarning) error {
	record := EarningRecord{
		EarningID:   earning.EarningID,
		OwnerKey:    earning.OwnerKey,
		AuctionID:   earning.AuctionID,
		AmountCents: earning.AmountCents,
		Status:      string(earning.Status),
		CreatedAt:   time.Unix(earning.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isUniqueViolation(err, constraintEarningAuction) {
		return wrapStoreError(errorSubjectEarning, errorCodeDuplicate, auction.ErrAuctionConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEarning, errorCodeInsert, err)
	}
	earning.EarningID = record.EarningID
	return nil
}

func (store *Store) FindEarningByAuction(ctx context.Context, auctionID string) (auction.OwnerEarning, bool, error) {
	var record EarningRecord
	err := store.db.WithContext(ctx).Where("auction_id = ?", auctionID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auction.OwnerEarning{}, false, nil
	}
	if err != nil {
		return auction.OwnerEarning{}, false, wrapStoreError(errorSubjectEarning, errorCodeGet, err)
	}
	return auction.OwnerEarning{
		EarningID:      record.EarningID,
		OwnerKey:       record.OwnerKey,
		AuctionID:      record.AuctionID,
		AmountCents:    record.AmountCents,
		Status:         auction.EarningStatus(record.Status),
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}, true, nil
}

func mapContent(record ContentRecord) auction.ContentItem {
	return auction.ContentItem{
		ContentID:      record.ContentID,
		PublicID:       record.PublicID,
		Category:       record.Category,
		Region:         record.Region,
		OwnerKey:       record.OwnerKey,
		RevenueShare:   record.RevenueShare,
		Status:         auction.ContentStatus(record.Status),
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}
}

func mapAuction(record AuctionRecord) auction.Auction {
	return auction.Auction{
		AuctionID:        record.AuctionID,
		ContentID:        record.ContentID,
		Status:           auction.Status(record.Status),
		EndsAtUnixUTC:    record.EndsAt.Unix(),
		CurrentBidCents:  record.CurrentBidCents,
		CurrentBidderKey: record.CurrentBidderKey,
		BidCount:         record.BidCount,
		CreatedUnixUTC:   record.CreatedAt.Unix(),
	}
}

func mapBid(record BidRecord) auction.Bid {
	return auction.Bid{
		BidID:          record.BidID,
		AuctionID:      record.AuctionID,
		BidderKey:      record.BidderKey,
		AmountCents:    record.AmountCents,
		IsWinning:      record.IsWinning,
		Invalidated:    record.Invalidated,
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
