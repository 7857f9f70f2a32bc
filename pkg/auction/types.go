package auction

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

// Status defines the persisted auction lifecycle. ENDING is never
// stored: it is derived for reads that observe an expired clock on a
// still-open auction.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// String returns the stored status value.
func (status Status) String() string {
	return string(status)
}

// DisplayStatus is the derived read-side status.
type DisplayStatus string

const (
	DisplayPending DisplayStatus = "pending"
	DisplayActive  DisplayStatus = "active"
	DisplayEnding  DisplayStatus = "ending"
	DisplayEnded   DisplayStatus = "ended"
)

// ContentStatus defines the content item lifecycle.
type ContentStatus string

const (
	ContentLive    ContentStatus = "live"
	ContentRemoved ContentStatus = "removed"
)

// EarningStatus defines submitter earning states. Settlement credits
// are immediately withdrawable.
type EarningStatus string

const EarningAvailable EarningStatus = "available"

// BidderKey identifies an authenticated bidder. The identity service
// owns its meaning; the engine treats it as opaque.
type BidderKey struct {
	value string
}

// NewBidderKey validates and normalizes a bidder key.
func NewBidderKey(raw string) (BidderKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BidderKey{}, fmt.Errorf("%w: empty value", ErrInvalidBidderKey)
	}
	return BidderKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key BidderKey) String() string {
	return key.value
}

// ContentItem identifies the media under auction.
type ContentItem struct {
	ContentID      string
	PublicID       string
	Category       string
	Region         string
	OwnerKey       string
	RevenueShare   bool
	Status         ContentStatus
	CreatedUnixUTC int64
}

// Auction is the time-boxed bidding process attached to one content
// item. CurrentBidCents is meaningful only when BidCount > 0.
type Auction struct {
	AuctionID        string
	ContentID        string
	Status           Status
	EndsAtUnixUTC    int64
	CurrentBidCents  int64
	CurrentBidderKey string
	BidCount         int64
	CreatedUnixUTC   int64
}

// HasBid reports whether the auction has an accepted bid.
func (auction Auction) HasBid() bool {
	return auction.BidCount > 0
}

// Bid is an append-only bid record. Exactly one bid per auction
// carries IsWinning at any instant; Invalidated marks a winning bid
// that failed the settlement-time funds re-check.
type Bid struct {
	BidID          string
	AuctionID      string
	BidderKey      string
	AmountCents    int64
	IsWinning      bool
	Invalidated    bool
	CreatedUnixUTC int64
}

// OwnerEarning records the submitter's share of a settled auction.
// The auction id is unique across earnings, which is the guard
// against double-crediting on settlement retry.
type OwnerEarning struct {
	EarningID      string
	OwnerKey       string
	AuctionID      string
	AmountCents    int64
	Status         EarningStatus
	CreatedUnixUTC int64
}

// SortKey orders directory listings.
type SortKey string

const (
	SortEndingSoon SortKey = "ending_soon"
	SortNewest     SortKey = "newest"
	SortHighestBid SortKey = "highest_bid"
)

// ParseSortKey validates a raw sort key, defaulting to ending_soon.
func ParseSortKey(raw string) (SortKey, error) {
	if strings.TrimSpace(raw) == "" {
		return SortEndingSoon, nil
	}
	switch SortKey(raw) {
	case SortEndingSoon, SortNewest, SortHighestBid:
		return SortKey(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
}

// Filter narrows directory listings.
type Filter struct {
	Category string
	Region   string
	Sort     SortKey
	Limit    int
}

// AuctionWithContent is the directory read row.
type AuctionWithContent struct {
	Auction Auction
	Content ContentItem
}

// BidReceipt reports an accepted bid.
type BidReceipt struct {
	BidID         string
	AuctionID     string
	AmountCents   int64
	BidCount      int64
	EndsAtUnixUTC int64
	Extended      bool
}

// BidView is a read-side bid row.
type BidView struct {
	BidderKey      string
	AmountCents    int64
	IsWinning      bool
	CreatedUnixUTC int64
}

// StatusView reports one auction's state, after any lazy close.
type StatusView struct {
	AuctionID            string
	ContentPublicID      string
	Status               DisplayStatus
	CurrentBidCents      int64
	HasBid               bool
	BidCount             int64
	EndsAtUnixUTC        int64
	TimeRemainingSeconds int64
	MinimumNextBidCents  int64
	RecentBids           []BidView
}

// Listing is one directory row with derived display fields.
type Listing struct {
	AuctionID            string
	ContentPublicID      string
	Category             string
	Region               string
	Status               DisplayStatus
	CurrentBidCents      int64
	HasBid               bool
	BidCount             int64
	EndsAtUnixUTC        int64
	TimeRemainingSeconds int64
	MinimumNextBidCents  int64
}

// SettlementOutcome reports one close/settle run.
type SettlementOutcome struct {
	AuctionID          string
	Settled            bool
	Sold               bool
	UnsoldReason       string
	WinnerKey          string
	AmountCents        int64
	GrantID            string
	DownloadToken      string
	OwnerKey           string
	OwnerCreditedCents int64
}

// Store is the persistence contract used by the auction engine. The
// Ledger and Grants views expose the same transaction scope to
// settlement, so debit, grant, and earning land or roll back together.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Ledger() ledger.Store
	Grants() grant.Store

	CreateContent(ctx context.Context, content *ContentItem) error
	GetContent(ctx context.Context, contentID string) (ContentItem, bool, error)
	FindContentByPublicID(ctx context.Context, publicID string) (ContentItem, bool, error)

	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (Auction, bool, error)
	GetAuctionForUpdate(ctx context.Context, auctionID string) (Auction, bool, error)
	GetAuctionByContentID(ctx context.Context, contentID string) (Auction, bool, error)
	UpdateAuctionBid(ctx context.Context, auctionID string, amountCents int64, bidderKey string, bidCount int64, endsAtUnixUTC int64) error
	TransitionAuctionStatus(ctx context.Context, auctionID string, from Status, to Status) error
	ListAuctions(ctx context.Context, filter Filter) ([]AuctionWithContent, error)
	ListDueAuctionIDs(ctx context.Context, nowUnixUTC int64, limit int) ([]string, error)

	InsertBid(ctx context.Context, bid *Bid) error
	DemoteWinningBid(ctx context.Context, auctionID string) error
	InvalidateWinningBid(ctx context.Context, auctionID string) error
	GetWinningBid(ctx context.Context, auctionID string) (Bid, bool, error)
	ListBids(ctx context.Context, auctionID string, limit int) ([]Bid, error)

	InsertEarning(ctx context.Context, earning *OwnerEarning) error
	FindEarningByAuction(ctx context.Context, auctionID string) (OwnerEarning, bool, error)
}
