package auction

import "errors"

// Business-rule declines. These are reported to the caller without any
// state change and are not infrastructure errors.
var (
	ErrAuctionNotActive    = errors.New("auction not active")
	ErrAuctionExpired      = errors.New("auction expired")
	ErrBidTooLow           = errors.New("bid too low")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Validation and lookup errors.
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrContentNotFound  = errors.New("content not found")
	ErrContentRemoved   = errors.New("content removed")
	ErrContentExists    = errors.New("content already registered")
	ErrAuctionExists    = errors.New("auction already exists for content")
	ErrInvalidBidderKey = errors.New("invalid bidder key")
	ErrInvalidAmount    = errors.New("invalid bid amount")
	ErrInvalidContent   = errors.New("invalid content input")
	ErrInvalidDuration  = errors.New("invalid auction duration")
	ErrInvalidFilter    = errors.New("invalid directory filter")
)

// Infrastructure and configuration errors.
var (
	ErrAuctionConflict      = errors.New("auction state changed concurrently")
	ErrInvalidServiceConfig = errors.New("invalid auction service config")
)

// errAuctionDue aborts a bid transaction when the auction clock has
// elapsed; the caller then runs settlement in its own transaction
// before reporting ErrAuctionExpired.
var errAuctionDue = errors.New("auction due for settlement")
