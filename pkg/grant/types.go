package grant

import (
	"context"
	"fmt"
	"strings"
)

// Status defines the grant lifecycle.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// String returns the stored status value.
func (status Status) String() string {
	return string(status)
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusActive, StatusRevoked:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Grant is the access right issued to an auction winner, bounded by
// expiry and download count. Immutable once written except for the
// download counter and the status flag.
type Grant struct {
	GrantID          string
	BuyerKey         string
	ContentID        string
	AuctionID        string
	AmountCents      int64
	TokenID          string
	DownloadsUsed    int
	MaxDownloads     int
	ExpiresAtUnixUTC int64
	Status           Status
	CreatedUnixUTC   int64
}

// IssueInput describes a grant to create.
type IssueInput struct {
	BuyerKey         string
	ContentID        string
	AuctionID        string
	AmountCents      int64
	MaxDownloads     int
	ExpiresAtUnixUTC int64
}

// Validate checks the issue request fields.
func (input IssueInput) Validate() error {
	if strings.TrimSpace(input.BuyerKey) == "" {
		return fmt.Errorf("%w: empty buyer key", ErrInvalidIssueInput)
	}
	if strings.TrimSpace(input.ContentID) == "" {
		return fmt.Errorf("%w: empty content id", ErrInvalidIssueInput)
	}
	if strings.TrimSpace(input.AuctionID) == "" {
		return fmt.Errorf("%w: empty auction id", ErrInvalidIssueInput)
	}
	if input.AmountCents <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrInvalidIssueInput)
	}
	if input.MaxDownloads <= 0 {
		return fmt.Errorf("%w: non-positive download limit", ErrInvalidIssueInput)
	}
	if input.ExpiresAtUnixUTC <= 0 {
		return fmt.Errorf("%w: missing expiry", ErrInvalidIssueInput)
	}
	return nil
}

// IssuedGrant pairs a stored grant with its signed download token. The
// token is only available at issue time; the store keeps the token id,
// never the token itself.
type IssuedGrant struct {
	Grant Grant
	Token string
}

// DownloadAuth is the result of consuming a grant: the core hands out
// the storage reference and counts usage, it never touches bytes.
type DownloadAuth struct {
	GrantID            string
	ContentID          string
	MediaRef           string
	DownloadsRemaining int
}

// Store is the persistence contract used by grants.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertGrant(ctx context.Context, grant *Grant) error
	GetGrant(ctx context.Context, grantID string) (Grant, bool, error)
	GetGrantForUpdate(ctx context.Context, grantID string) (Grant, bool, error)
	IncrementDownloads(ctx context.Context, grantID string, fromUsed int, toUsed int) error
	UpdateGrantStatus(ctx context.Context, grantID string, from Status, to Status) error
}
