package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

// settle runs the settlement sequence inside the caller's transaction,
// with the auction row already locked and known to be ACTIVE and due.
//
// The status transition is the exactly-once guard: it succeeds for one
// caller; a concurrent settler loses the compare-and-swap and skips.
// Every subsequent step shares the transaction, so a failure anywhere
// rolls the transition back and the auction stays ACTIVE-but-expired,
// to be retried by the next triggering read. The earning's unique
// auction reference and the ledger's transaction reference keep that
// retry from double-applying.
func (service *Service) settle(ctx context.Context, txStore Store, nowUnixUTC int64, current Auction) (SettlementOutcome, error) {
	if err := txStore.TransitionAuctionStatus(ctx, current.AuctionID, StatusActive, StatusEnded); err != nil {
		if errors.Is(err, ErrAuctionConflict) {
			return SettlementOutcome{AuctionID: current.AuctionID}, nil
		}
		return SettlementOutcome{}, err
	}
	outcome := SettlementOutcome{AuctionID: current.AuctionID, Settled: true}

	winning, found, err := txStore.GetWinningBid(ctx, current.AuctionID)
	if err != nil {
		return SettlementOutcome{}, err
	}
	if !found {
		outcome.UnsoldReason = unsoldReasonNoBids
		return outcome, nil
	}
	outcome.WinnerKey = winning.BidderKey
	outcome.AmountCents = winning.AmountCents

	debited, err := service.debitWinner(ctx, txStore.Ledger(), nowUnixUTC, current.AuctionID, winning)
	if err != nil {
		return SettlementOutcome{}, err
	}
	if !debited {
		// Credits were spent elsewhere between bid and close. A
		// business outcome, not a failure: the auction ends unsold and
		// the invalidated bid is left for manual reconciliation.
		if err := txStore.InvalidateWinningBid(ctx, current.AuctionID); err != nil {
			return SettlementOutcome{}, err
		}
		outcome.UnsoldReason = unsoldReasonInsufficientCredits
		return outcome, nil
	}

	issued, err := service.issuer.Issue(ctx, txStore.Grants(), nowUnixUTC, grant.IssueInput{
		BuyerKey:         winning.BidderKey,
		ContentID:        current.ContentID,
		AuctionID:        current.AuctionID,
		AmountCents:      winning.AmountCents,
		MaxDownloads:     service.maxDownloads,
		ExpiresAtUnixUTC: nowUnixUTC + service.grantValiditySeconds,
	})
	if err != nil {
		return SettlementOutcome{}, err
	}
	outcome.Sold = true
	outcome.GrantID = issued.Grant.GrantID
	outcome.DownloadToken = issued.Token

	credited, err := service.creditOwner(ctx, txStore, nowUnixUTC, current, winning.AmountCents)
	if err != nil {
		return SettlementOutcome{}, err
	}
	outcome.OwnerKey = credited.OwnerKey
	outcome.OwnerCreditedCents = credited.AmountCents
	return outcome, nil
}

// debitWinner records the AUCTION_WIN ledger transaction. Returns
// false when the winner no longer has the funds. A duplicate
// settlement reference means a previous attempt already debited;
// treated as done so a retry stays re-entrant.
func (service *Service) debitWinner(ctx context.Context, ledgerStore ledger.Store, nowUnixUTC int64, auctionID string, winning Bid) (bool, error) {
	buyerKey, err := ledger.NewBuyerKey(winning.BidderKey)
	if err != nil {
		return false, err
	}
	reference, err := ledger.NewReference(settlementReferencePrefix + auctionID)
	if err != nil {
		return false, err
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"auction_id":%q,"bid_id":%q}`, auctionID, winning.BidID))
	if err != nil {
		return false, err
	}
	input, err := ledger.NewTransactionInput(buyerKey, ledger.TransactionAuctionWin, -winning.AmountCents, reference, metadata)
	if err != nil {
		return false, err
	}
	_, err = ledger.RecordTransaction(ctx, ledgerStore, nowUnixUTC, input)
	if errors.Is(err, ledger.ErrInsufficientCredits) {
		return false, nil
	}
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type ownerCredit struct {
	OwnerKey    string
	AmountCents int64
}

// creditOwner records the submitter's share for a sold auction. The
// unique earning-per-auction check makes retries a no-op.
func (service *Service) creditOwner(ctx context.Context, txStore Store, nowUnixUTC int64, current Auction, winningAmountCents int64) (ownerCredit, error) {
	content, found, err := txStore.GetContent(ctx, current.ContentID)
	if err != nil {
		return ownerCredit{}, err
	}
	if !found || content.OwnerKey == "" || !content.RevenueShare || service.ownerSharePercent <= 0 {
		return ownerCredit{}, nil
	}
	_, exists, err := txStore.FindEarningByAuction(ctx, current.AuctionID)
	if err != nil {
		return ownerCredit{}, err
	}
	if exists {
		return ownerCredit{}, nil
	}
	shareCents := winningAmountCents * service.ownerSharePercent / 100
	earning := OwnerEarning{
		OwnerKey:       content.OwnerKey,
		AuctionID:      current.AuctionID,
		AmountCents:    shareCents,
		Status:         EarningAvailable,
		CreatedUnixUTC: nowUnixUTC,
	}
	if err := txStore.InsertEarning(ctx, &earning); err != nil {
		return ownerCredit{}, err
	}
	return ownerCredit{OwnerKey: content.OwnerKey, AmountCents: shareCents}, nil
}
