package auction

import (
	"context"
	"fmt"
	"strings"
)

// ListActive returns the directory of open auctions with derived
// display fields. A pure read: an expired-but-unsettled auction is
// reported as ENDING, never closed here. Callers re-reading after a
// close trigger may see a different outcome.
func (service *Service) ListActive(ctx context.Context, filter Filter) ([]Listing, error) {
	sortKey, err := ParseSortKey(string(filter.Sort))
	if err != nil {
		return nil, err
	}
	normalized := Filter{
		Category: strings.TrimSpace(filter.Category),
		Region:   strings.TrimSpace(filter.Region),
		Sort:     sortKey,
		Limit:    filter.Limit,
	}
	if normalized.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidFilter)
	}
	rows, err := service.store.ListAuctions(ctx, normalized)
	if err != nil {
		return nil, err
	}
	nowUnixUTC := service.nowFn()
	listings := make([]Listing, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, Listing{
			AuctionID:            row.Auction.AuctionID,
			ContentPublicID:      row.Content.PublicID,
			Category:             row.Content.Category,
			Region:               row.Content.Region,
			Status:               displayStatus(row.Auction, nowUnixUTC),
			CurrentBidCents:      row.Auction.CurrentBidCents,
			HasBid:               row.Auction.HasBid(),
			BidCount:             row.Auction.BidCount,
			EndsAtUnixUTC:        row.Auction.EndsAtUnixUTC,
			TimeRemainingSeconds: timeRemaining(row.Auction, nowUnixUTC),
			MinimumNextBidCents:  service.minimumNextBid(row.Auction),
		})
	}
	return listings, nil
}
