package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContentRecord mirrors the content_items table.
type ContentRecord struct {
	ContentID    string    `gorm:"type:uuid;primaryKey"`
	PublicID     string    `gorm:"not null;index:uniq_content_public_id,unique"`
	Category     string    `gorm:"not null;index:idx_content_category"`
	Region       string    `gorm:"index:idx_content_region"`
	OwnerKey     string    `gorm:""`
	RevenueShare bool      `gorm:"not null"`
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (ContentRecord) TableName() string { return "content_items" }

func (content *ContentRecord) BeforeCreate(tx *gorm.DB) error {
	if content.ContentID == "" {
		content.ContentID = uuid.NewString()
	}
	return nil
}

// AuctionRecord mirrors the auctions table. One auction per content
// item, enforced by the unique content index.
type AuctionRecord struct {
	AuctionID        string    `gorm:"type:uuid;primaryKey"`
	ContentID        string    `gorm:"type:uuid;not null;index:uniq_auction_content,unique"`
	Status           string    `gorm:"not null;index:idx_auction_status_ends,priority:1"`
	EndsAt           time.Time `gorm:"not null;index:idx_auction_status_ends,priority:2"`
	CurrentBidCents  int64     `gorm:"not null"`
	CurrentBidderKey string    `gorm:""`
	BidCount         int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (AuctionRecord) TableName() string { return "auctions" }

func (auction *AuctionRecord) BeforeCreate(tx *gorm.DB) error {
	if auction.AuctionID == "" {
		auction.AuctionID = uuid.NewString()
	}
	return nil
}

// BidRecord mirrors the append-only bids table.
type BidRecord struct {
	BidID       string    `gorm:"type:uuid;primaryKey"`
	AuctionID   string    `gorm:"type:uuid;not null;index:idx_bids_auction_created,priority:1"`
	BidderKey   string    `gorm:"not null"`
	AmountCents int64     `gorm:"not null"`
	IsWinning   bool      `gorm:"not null"`
	Invalidated bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_bids_auction_created,priority:2"`
}

func (BidRecord) TableName() string { return "bids" }

func (bid *BidRecord) BeforeCreate(tx *gorm.DB) error {
	if bid.BidID == "" {
		bid.BidID = uuid.NewString()
	}
	return nil
}

// BuyerRecord mirrors the buyer_accounts table. The cached balance is
// only ever written together with a credit transaction row.
type BuyerRecord struct {
	BuyerKey     string    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (BuyerRecord) TableName() string { return "buyer_accounts" }

// TransactionRecord mirrors the credit_transactions table. The unique
// reference index is the settlement and top-up replay guard; rows
// without an idempotency scope store NULL so they never collide.
type TransactionRecord struct {
	TransactionID      string         `gorm:"type:uuid;primaryKey"`
	BuyerKey           string         `gorm:"not null;index:idx_txn_buyer_created,priority:1"`
	Type               string         `gorm:"not null"`
	AmountCents        int64          `gorm:"not null"`
	BalanceBeforeCents int64          `gorm:"not null"`
	BalanceAfterCents  int64          `gorm:"not null"`
	Reference          *string        `gorm:"index:uniq_txn_reference,unique"`
	Metadata           datatypes.JSON `gorm:"not null"`
	CreatedAt          time.Time      `gorm:"not null;index:idx_txn_buyer_created,priority:2"`
}

func (TransactionRecord) TableName() string { return "credit_transactions" }

func (transaction *TransactionRecord) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// GrantRecord mirrors the won_grants table. The unique auction index
// keeps settlement retries from issuing a second grant.
type GrantRecord struct {
	GrantID       string    `gorm:"type:uuid;primaryKey"`
	BuyerKey      string    `gorm:"not null;index:idx_grants_buyer"`
	ContentID     string    `gorm:"type:uuid;not null"`
	AuctionID     string    `gorm:"type:uuid;not null;index:uniq_grant_auction,unique"`
	AmountCents   int64     `gorm:"not null"`
	TokenID       string    `gorm:"not null"`
	DownloadsUsed int       `gorm:"not null"`
	MaxDownloads  int       `gorm:"not null"`
	ExpiresAt     time.Time `gorm:"not null"`
	Status        string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (GrantRecord) TableName() string { return "won_grants" }

// EarningRecord mirrors the owner_earnings table. The unique auction
// index keeps settlement retries from double-crediting the submitter.
type EarningRecord struct {
	EarningID   string    `gorm:"type:uuid;primaryKey"`
	OwnerKey    string    `gorm:"not null;index:idx_earnings_owner"`
	AuctionID   string    `gorm:"type:uuid;not null;index:uniq_earning_auction,unique"`
	AmountCents int64     `gorm:"not null"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (EarningRecord) TableName() string { return "owner_earnings" }

func (earning *EarningRecord) BeforeCreate(tx *gorm.DB) error {
	if earning.EarningID == "" {
		earning.EarningID = uuid.NewString()
	}
	return nil
}

// Migrate creates or updates the schema for every table the engine
// persists.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ContentRecord{},
		&AuctionRecord{},
		&BidRecord{},
		&BuyerRecord{},
		&TransactionRecord{},
		&GrantRecord{},
		&EarningRecord{},
	)
}
