package auction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

// Service owns auction lifecycles: bid ordering, the anti-snipe
// extension, lazy close, and settlement.
type Service struct {
	store  Store
	issuer *grant.Issuer
	nowFn  func() int64
	logger OperationLogger

	minimumBidCents           int64
	minIncrementCents         int64
	antiSnipeWindowSeconds    int64
	antiSnipeExtensionSeconds int64
	maxDownloads              int
	grantValiditySeconds      int64
	ownerSharePercent         int64
}

// NewService wires a Service.
func NewService(store Store, issuer *grant.Issuer, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: grant issuer dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:                     store,
		issuer:                    issuer,
		nowFn:                     now,
		minimumBidCents:           DefaultMinimumBidCents,
		minIncrementCents:         DefaultMinIncrementCents,
		antiSnipeWindowSeconds:    DefaultAntiSnipeWindowSeconds,
		antiSnipeExtensionSeconds: DefaultAntiSnipeExtensionSeconds,
		maxDownloads:              DefaultMaxDownloads,
		grantValiditySeconds:      DefaultGrantValiditySeconds,
		ownerSharePercent:         DefaultOwnerSharePercent,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ContentInput describes a content item to register.
type ContentInput struct {
	PublicID     string
	Category     string
	Region       string
	OwnerKey     string
	RevenueShare bool
}

// RegisterContent records a submitted content item. Content with no
// owner key earns nothing on settlement.
func (service *Service) RegisterContent(ctx context.Context, input ContentInput) (ContentItem, error) {
	publicID := strings.TrimSpace(input.PublicID)
	if publicID == "" {
		return ContentItem{}, fmt.Errorf("%w: empty public id", ErrInvalidContent)
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return ContentItem{}, fmt.Errorf("%w: empty category", ErrInvalidContent)
	}
	if input.RevenueShare && strings.TrimSpace(input.OwnerKey) == "" {
		return ContentItem{}, fmt.Errorf("%w: revenue share requires an owner", ErrInvalidContent)
	}
	content := ContentItem{
		PublicID:       publicID,
		Category:       category,
		Region:         strings.TrimSpace(input.Region),
		OwnerKey:       strings.TrimSpace(input.OwnerKey),
		RevenueShare:   input.RevenueShare,
		Status:         ContentLive,
		CreatedUnixUTC: service.nowFn(),
	}
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		_, exists, err := transactionStore.FindContentByPublicID(ctx, publicID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: public id %s taken", ErrContentExists, publicID)
		}
		return transactionStore.CreateContent(ctx, &content)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterContent,
		Detail:    publicID,
		Error:     err,
	})
	if err != nil {
		return ContentItem{}, err
	}
	return content, nil
}

// OpenAuction opens bidding on a content item for the given duration.
// The auction starts ACTIVE; one auction per content item.
func (service *Service) OpenAuction(ctx context.Context, contentRef string, durationSeconds int64) (Auction, error) {
	if durationSeconds <= 0 {
		return Auction{}, fmt.Errorf("%w: %d seconds", ErrInvalidDuration, durationSeconds)
	}
	var opened Auction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		content, err := resolveContent(ctx, transactionStore, contentRef)
		if err != nil {
			return err
		}
		if content.Status != ContentLive {
			return fmt.Errorf("%w: %s", ErrContentRemoved, content.PublicID)
		}
		_, exists, err := transactionStore.GetAuctionByContentID(ctx, content.ContentID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: content %s", ErrAuctionExists, content.PublicID)
		}
		nowUnixUTC := service.nowFn()
		opened = Auction{
			ContentID:      content.ContentID,
			Status:         StatusActive,
			EndsAtUnixUTC:  nowUnixUTC + durationSeconds,
			CreatedUnixUTC: nowUnixUTC,
		}
		return transactionStore.CreateAuction(ctx, &opened)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAuction,
		AuctionID: opened.AuctionID,
		Error:     operationError,
	})
	if operationError != nil {
		return Auction{}, operationError
	}
	return opened, nil
}

// PlaceBid validates and records a bid in a single transaction. A bid
// arriving after the clock elapsed triggers settlement first and is
// then declined with ErrAuctionExpired.
func (service *Service) PlaceBid(ctx context.Context, auctionRef string, bidderKey BidderKey, amountCents int64) (BidReceipt, error) {
	if amountCents <= 0 {
		return BidReceipt{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amountCents)
	}
	auctionID, err := service.resolveAuctionID(ctx, auctionRef)
	if err != nil {
		return BidReceipt{}, err
	}
	var receipt BidReceipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, found, err := transactionStore.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
		}
		if current.Status != StatusActive {
			return fmt.Errorf("%w: status %s", ErrAuctionNotActive, current.Status)
		}
		nowUnixUTC := service.nowFn()
		if nowUnixUTC >= current.EndsAtUnixUTC {
			return errAuctionDue
		}
		required := service.minimumBidCents
		if current.HasBid() {
			required = current.CurrentBidCents + service.minIncrementCents
		}
		if amountCents < required {
			return fmt.Errorf("%w: minimum next bid is %d", ErrBidTooLow, required)
		}
		balance, err := buyerBalance(ctx, transactionStore.Ledger(), bidderKey)
		if err != nil {
			return err
		}
		if balance < amountCents {
			return fmt.Errorf("%w: balance %d, bid %d", ErrInsufficientCredits, balance, amountCents)
		}
		if current.HasBid() {
			if err := transactionStore.DemoteWinningBid(ctx, auctionID); err != nil {
				return err
			}
		}
		accepted := Bid{
			AuctionID:      auctionID,
			BidderKey:      bidderKey.String(),
			AmountCents:    amountCents,
			IsWinning:      true,
			CreatedUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.InsertBid(ctx, &accepted); err != nil {
			return err
		}
		endsAt := current.EndsAtUnixUTC
		extended := false
		if current.EndsAtUnixUTC-nowUnixUTC <= service.antiSnipeWindowSeconds {
			endsAt = nowUnixUTC + service.antiSnipeExtensionSeconds
			extended = true
		}
		if err := transactionStore.UpdateAuctionBid(ctx, auctionID, amountCents, bidderKey.String(), current.BidCount+1, endsAt); err != nil {
			return err
		}
		receipt = BidReceipt{
			BidID:         accepted.BidID,
			AuctionID:     auctionID,
			AmountCents:   amountCents,
			BidCount:      current.BidCount + 1,
			EndsAtUnixUTC: endsAt,
			Extended:      extended,
		}
		return nil
	})
	if errors.Is(operationError, errAuctionDue) {
		if _, closeErr := service.CloseDue(ctx, auctionID); closeErr != nil {
			return BidReceipt{}, closeErr
		}
		operationError = fmt.Errorf("%w: closed on read", ErrAuctionExpired)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationPlaceBid,
		AuctionID:   auctionID,
		BidderKey:   bidderKey.String(),
		AmountCents: amountCents,
		Status:      bidLogStatus(operationError),
		Error:       operationError,
	})
	if operationError != nil {
		return BidReceipt{}, operationError
	}
	return receipt, nil
}

// Status reports one auction, closing it first when its clock has
// elapsed. Reads through Status never observe a stale ACTIVE auction.
func (service *Service) Status(ctx context.Context, auctionRef string) (StatusView, error) {
	auctionID, err := service.resolveAuctionID(ctx, auctionRef)
	if err != nil {
		return StatusView{}, err
	}
	current, found, err := service.store.GetAuction(ctx, auctionID)
	if err != nil {
		return StatusView{}, err
	}
	if !found {
		return StatusView{}, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	if current.Status == StatusActive && service.nowFn() >= current.EndsAtUnixUTC {
		if _, err := service.CloseDue(ctx, auctionID); err != nil {
			return StatusView{}, err
		}
		current, _, err = service.store.GetAuction(ctx, auctionID)
		if err != nil {
			return StatusView{}, err
		}
	}
	content, _, err := service.store.GetContent(ctx, current.ContentID)
	if err != nil {
		return StatusView{}, err
	}
	bids, err := service.store.ListBids(ctx, auctionID, recentBidsLimit)
	if err != nil {
		return StatusView{}, err
	}
	recent := make([]BidView, 0, len(bids))
	for _, bid := range bids {
		recent = append(recent, BidView{
			BidderKey:      bid.BidderKey,
			AmountCents:    bid.AmountCents,
			IsWinning:      bid.IsWinning,
			CreatedUnixUTC: bid.CreatedUnixUTC,
		})
	}
	nowUnixUTC := service.nowFn()
	return StatusView{
		AuctionID:            current.AuctionID,
		ContentPublicID:      content.PublicID,
		Status:               displayStatus(current, nowUnixUTC),
		CurrentBidCents:      current.CurrentBidCents,
		HasBid:               current.HasBid(),
		BidCount:             current.BidCount,
		EndsAtUnixUTC:        current.EndsAtUnixUTC,
		TimeRemainingSeconds: timeRemaining(current, nowUnixUTC),
		MinimumNextBidCents:  service.minimumNextBid(current),
		RecentBids:           recent,
	}, nil
}

// CloseDue closes and settles the auction if its clock has elapsed.
// Safe to call from concurrent triggers: exactly one caller performs
// the settlement, the rest observe ENDED and skip.
func (service *Service) CloseDue(ctx context.Context, auctionID string) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, found, err := transactionStore.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
		}
		nowUnixUTC := service.nowFn()
		if current.Status != StatusActive || nowUnixUTC < current.EndsAtUnixUTC {
			outcome = SettlementOutcome{AuctionID: auctionID}
			return nil
		}
		outcome, err = service.settle(ctx, transactionStore, nowUnixUTC, current)
		return err
	})
	if outcome.Settled || operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation:   operationSettle,
			AuctionID:   auctionID,
			BidderKey:   outcome.WinnerKey,
			AmountCents: outcome.AmountCents,
			Detail:      settlementDetail(outcome),
			Error:       operationError,
		})
	}
	if operationError != nil {
		return SettlementOutcome{}, operationError
	}
	return outcome, nil
}

// SweepDue closes every due auction, up to limit. The sweep is an
// optimization over lazy close, not the sole closer; failures on one
// auction do not stop the sweep.
func (service *Service) SweepDue(ctx context.Context, limit int) (int, error) {
	dueIDs, err := service.store.ListDueAuctionIDs(ctx, service.nowFn(), limit)
	if err != nil {
		return 0, err
	}
	closed := 0
	var firstError error
	for _, auctionID := range dueIDs {
		outcome, closeErr := service.CloseDue(ctx, auctionID)
		if closeErr != nil {
			if firstError == nil {
				firstError = closeErr
			}
			continue
		}
		if outcome.Settled {
			closed++
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSweep,
		Detail:    fmt.Sprintf("closed %d of %d due", closed, len(dueIDs)),
		Error:     firstError,
	})
	return closed, firstError
}

func (service *Service) resolveAuctionID(ctx context.Context, auctionRef string) (string, error) {
	ref := strings.TrimSpace(auctionRef)
	if ref == "" {
		return "", fmt.Errorf("%w: empty auction ref", ErrAuctionNotFound)
	}
	_, found, err := service.store.GetAuction(ctx, ref)
	if err != nil {
		return "", err
	}
	if found {
		return ref, nil
	}
	content, found, err := service.store.FindContentByPublicID(ctx, ref)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrAuctionNotFound, ref)
	}
	byContent, found, err := service.store.GetAuctionByContentID(ctx, content.ContentID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: content %s has no auction", ErrAuctionNotFound, ref)
	}
	return byContent.AuctionID, nil
}

func (service *Service) minimumNextBid(current Auction) int64 {
	if current.HasBid() {
		return current.CurrentBidCents + service.minIncrementCents
	}
	return service.minimumBidCents
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func resolveContent(ctx context.Context, store Store, contentRef string) (ContentItem, error) {
	ref := strings.TrimSpace(contentRef)
	if ref == "" {
		return ContentItem{}, fmt.Errorf("%w: empty content ref", ErrContentNotFound)
	}
	content, found, err := store.GetContent(ctx, ref)
	if err != nil {
		return ContentItem{}, err
	}
	if found {
		return content, nil
	}
	content, found, err = store.FindContentByPublicID(ctx, ref)
	if err != nil {
		return ContentItem{}, err
	}
	if !found {
		return ContentItem{}, fmt.Errorf("%w: %s", ErrContentNotFound, ref)
	}
	return content, nil
}

func buyerBalance(ctx context.Context, ledgerStore ledger.Store, bidderKey BidderKey) (int64, error) {
	buyerKey, err := ledger.NewBuyerKey(bidderKey.String())
	if err != nil {
		return 0, err
	}
	account, found, err := ledgerStore.GetBuyer(ctx, buyerKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return account.BalanceCents, nil
}

// IsDecline reports whether the error is a business-rule decline
// rather than a failure.
func IsDecline(err error) bool {
	return errors.Is(err, ErrAuctionNotActive) ||
		errors.Is(err, ErrAuctionExpired) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrInsufficientCredits)
}

func bidLogStatus(err error) string {
	if err == nil {
		return operationStatusOK
	}
	if IsDecline(err) {
		return "declined"
	}
	return operationStatusError
}

func displayStatus(current Auction, nowUnixUTC int64) DisplayStatus {
	switch current.Status {
	case StatusPending:
		return DisplayPending
	case StatusEnded:
		return DisplayEnded
	}
	if nowUnixUTC >= current.EndsAtUnixUTC {
		return DisplayEnding
	}
	return DisplayActive
}

func timeRemaining(current Auction, nowUnixUTC int64) int64 {
	remaining := current.EndsAtUnixUTC - nowUnixUTC
	if remaining < 0 || current.Status == StatusEnded {
		return 0
	}
	return remaining
}

func settlementDetail(outcome SettlementOutcome) string {
	if !outcome.Settled {
		return "skipped"
	}
	if outcome.Sold {
		return "sold"
	}
	return "unsold: " + outcome.UnsoldReason
}
