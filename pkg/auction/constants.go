package auction

const (
	// DefaultMinimumBidCents is the opening bid floor.
	DefaultMinimumBidCents int64 = 5000
	// DefaultMinIncrementCents is the minimum raise over the current bid.
	DefaultMinIncrementCents int64 = 500
	// DefaultAntiSnipeWindowSeconds is the late-bid window that arms the extension.
	DefaultAntiSnipeWindowSeconds int64 = 60
	// DefaultAntiSnipeExtensionSeconds is how far past the accepting bid the
	// close moves. Extensions are uncapped: a contested auction keeps running.
	DefaultAntiSnipeExtensionSeconds int64 = 120
	// DefaultMaxDownloads bounds a won grant's download counter.
	DefaultMaxDownloads = 5
	// DefaultGrantValiditySeconds bounds a won grant's lifetime (30 days).
	DefaultGrantValiditySeconds int64 = 30 * 24 * 60 * 60
	// DefaultOwnerSharePercent is the revenue share credited to a linked submitter.
	DefaultOwnerSharePercent int64 = 50
)

const (
	operationOpenAuction     = "open_auction"
	operationRegisterContent = "register_content"
	operationPlaceBid        = "place_bid"
	operationSettle          = "settle"
	operationSweep           = "sweep"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	unsoldReasonNoBids              = "no_bids"
	unsoldReasonInsufficientCredits = "insufficient_credits"

	settlementReferencePrefix = "auction:"

	recentBidsLimit = 10
)
