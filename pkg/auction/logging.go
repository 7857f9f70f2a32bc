package auction

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes an auction engine operation.
type OperationLog struct {
	Operation   string
	AuctionID   string
	BidderKey   string
	AmountCents int64
	Status      string
	Detail      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithBidRules overrides the bid floor, increment, and anti-snipe
// parameters. Zero values keep the defaults.
func WithBidRules(minimumBidCents int64, minIncrementCents int64, antiSnipeWindowSeconds int64, antiSnipeExtensionSeconds int64) ServiceOption {
	return func(service *Service) {
		if minimumBidCents > 0 {
			service.minimumBidCents = minimumBidCents
		}
		if minIncrementCents > 0 {
			service.minIncrementCents = minIncrementCents
		}
		if antiSnipeWindowSeconds > 0 {
			service.antiSnipeWindowSeconds = antiSnipeWindowSeconds
		}
		if antiSnipeExtensionSeconds > 0 {
			service.antiSnipeExtensionSeconds = antiSnipeExtensionSeconds
		}
	}
}

// WithGrantTerms overrides the issued grant's download limit and
// validity window. Zero values keep the defaults.
func WithGrantTerms(maxDownloads int, validitySeconds int64) ServiceOption {
	return func(service *Service) {
		if maxDownloads > 0 {
			service.maxDownloads = maxDownloads
		}
		if validitySeconds > 0 {
			service.grantValiditySeconds = validitySeconds
		}
	}
}

// WithOwnerSharePercent overrides the submitter revenue share.
func WithOwnerSharePercent(percent int64) ServiceOption {
	return func(service *Service) {
		if percent >= 0 && percent <= 100 {
			service.ownerSharePercent = percent
		}
	}
}
