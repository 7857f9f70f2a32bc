package httpapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/sourcewire/auctioncore/pkg/auction"
	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

// memStore is an in-memory auction.Store for handler tests, with the
// ledger and grant views sharing its state.
type memStore struct {
	contents     map[string]auction.ContentItem
	auctions     map[string]auction.Auction
	bids         []auction.Bid
	earnings     map[string]auction.OwnerEarning
	accounts     map[string]ledger.BuyerAccount
	transactions []ledger.Transaction
	grants       map[string]grant.Grant
	nextID       int
}

func newMemStore() *memStore {
	return &memStore{
		contents: map[string]auction.ContentItem{},
		auctions: map[string]auction.Auction{},
		earnings: map[string]auction.OwnerEarning{},
		accounts: map[string]ledger.BuyerAccount{},
		grants:   map[string]grant.Grant{},
	}
}

type memSnapshot struct {
	contents     map[string]auction.ContentItem
	auctions     map[string]auction.Auction
	bids         []auction.Bid
	earnings     map[string]auction.OwnerEarning
	accounts     map[string]ledger.BuyerAccount
	transactions []ledger.Transaction
	grants       map[string]grant.Grant
	nextID       int
}

func (store *memStore) snapshot() memSnapshot {
	taken := memSnapshot{
		contents: make(map[string]auction.ContentItem, len(store.contents)),
		auctions: make(map[string]auction.Auction, len(store.auctions)),
		earnings: make(map[string]auction.OwnerEarning, len(store.earnings)),
		accounts: make(map[string]ledger.BuyerAccount, len(store.accounts)),
		grants:   make(map[string]grant.Grant, len(store.grants)),
		nextID:   store.nextID,
	}
	for key, value := range store.contents {
		taken.contents[key] = value
	}
	for key, value := range store.auctions {
		taken.auctions[key] = value
	}
	for key, value := range store.earnings {
		taken.earnings[key] = value
	}
	for key, value := range store.accounts {
		taken.accounts[key] = value
	}
	for key, value := range store.grants {
		taken.grants[key] = value
	}
	taken.bids = append([]auction.Bid(nil), store.bids...)
	taken.transactions = append([]ledger.Transaction(nil), store.transactions...)
	return taken
}

func (store *memStore) restore(taken memSnapshot) {
	store.contents = taken.contents
	store.auctions = taken.auctions
	store.bids = taken.bids
	store.earnings = taken.earnings
	store.accounts = taken.accounts
	store.transactions = taken.transactions
	store.grants = taken.grants
	store.nextID = taken.nextID
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore auction.Store) error) error {
	taken := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(taken)
		return err
	}
	return nil
}

func (store *memStore) Ledger() ledger.Store {
	return &memLedgerView{parent: store}
}

func (store *memStore) Grants() grant.Store {
	return &memGrantView{parent: store}
}

func (store *memStore) assignID(prefix string) string {
	store.nextID++
	return fmt.Sprintf("%s-%d", prefix, store.nextID)
}

func (store *memStore) CreateContent(ctx context.Context, content *auction.ContentItem) error {
	content.ContentID = store.assignID("content")
	store.contents[content.ContentID] = *content
	return nil
}

func (store *memStore) GetContent(ctx context.Context, contentID string) (auction.ContentItem, bool, error) {
	content, ok := store.contents[contentID]
	return content, ok, nil
}

func (store *memStore) FindContentByPublicID(ctx context.Context, publicID string) (auction.ContentItem, bool, error) {
	for _, content := range store.contents {
		if content.PublicID == publicID {
			return content, true, nil
		}
	}
	return auction.ContentItem{}, false, nil
}

func (store *memStore) CreateAuction(ctx context.Context, opened *auction.Auction) error {
	opened.AuctionID = store.assignID("auction")
	store.auctions[opened.AuctionID] = *opened
	return nil
}

func (store *memStore) GetAuction(ctx context.Context, auctionID string) (auction.Auction, bool, error) {
	current, ok := store.auctions[auctionID]
	return current, ok, nil
}

func (store *memStore) GetAuctionForUpdate(ctx context.Context, auctionID string) (auction.Auction, bool, error) {
	return store.GetAuction(ctx, auctionID)
}

func (store *memStore) GetAuctionByContentID(ctx context.Context, contentID string) (auction.Auction, bool, error) {
	for _, current := range store.auctions {
		if current.ContentID == contentID {
			return current, true, nil
		}
	}
	return auction.Auction{}, false, nil
}

func (store *memStore) UpdateAuctionBid(ctx context.Context, auctionID string, amountCents int64, bidderKey string, bidCount int64, endsAtUnixUTC int64) error {
	current, ok := store.auctions[auctionID]
	if !ok {
		return auction.ErrAuctionNotFound
	}
	current.CurrentBidCents = amountCents
	current.CurrentBidderKey = bidderKey
	current.BidCount = bidCount
	current.EndsAtUnixUTC = endsAtUnixUTC
	store.auctions[auctionID] = current
	return nil
}

func (store *memStore) TransitionAuctionStatus(ctx context.Context, auctionID string, from auction.Status, to auction.Status) error {
	current, ok := store.auctions[auctionID]
	if !ok {
		return auction.ErrAuctionNotFound
	}
	if current.Status != from {
		return auction.ErrAuctionConflict
	}
	current.Status = to
	store.auctions[auctionID] = current
	return nil
}

func (store *memStore) ListAuctions(ctx context.Context, filter auction.Filter) ([]auction.AuctionWithContent, error) {
	var rows []auction.AuctionWithContent
	for _, current := range store.auctions {
		if current.Status != auction.StatusActive {
			continue
		}
		content := store.contents[current.ContentID]
		if filter.Category != "" && content.Category != filter.Category {
			continue
		}
		if filter.Region != "" && content.Region != filter.Region {
			continue
		}
		rows = append(rows, auction.AuctionWithContent{Auction: current, Content: content})
	}
	sort.Slice(rows, func(left, right int) bool {
		switch filter.Sort {
		case auction.SortNewest:
			return rows[left].Auction.CreatedUnixUTC > rows[right].Auction.CreatedUnixUTC
		case auction.SortHighestBid:
			return rows[left].Auction.CurrentBidCents > rows[right].Auction.CurrentBidCents
		default:
			return rows[left].Auction.EndsAtUnixUTC < rows[right].Auction.EndsAtUnixUTC
		}
	})
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (store *memStore) ListDueAuctionIDs(ctx context.Context, nowUnixUTC int64, limit int) ([]string, error) {
	var due []string
	for auctionID, current := range store.auctions {
		if current.Status == auction.StatusActive && current.EndsAtUnixUTC <= nowUnixUTC {
			due = append(due, auctionID)
		}
	}
	sort.Strings(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (store *memStore) InsertBid(ctx context.Context, bid *auction.Bid) error {
	bid.BidID = store.assignID("bid")
	store.bids = append(store.bids, *bid)
	return nil
}

func (store *memStore) DemoteWinningBid(ctx context.Context, auctionID string) error {
	for index := range store.bids {
		if store.bids[index].AuctionID == auctionID && store.bids[index].IsWinning {
			store.bids[index].IsWinning = false
		}
	}
	return nil
}

func (store *memStore) InvalidateWinningBid(ctx context.Context, auctionID string) error {
	for index := range store.bids {
		if store.bids[index].AuctionID == auctionID && store.bids[index].IsWinning {
			store.bids[index].IsWinning = false
			store.bids[index].Invalidated = true
		}
	}
	return nil
}

func (store *memStore) GetWinningBid(ctx context.Context, auctionID string) (auction.Bid, bool, error) {
	for _, bid := range store.bids {
		if bid.AuctionID == auctionID && bid.IsWinning {
			return bid, true, nil
		}
	}
	return auction.Bid{}, false, nil
}

func (store *memStore) ListBids(ctx context.Context, auctionID string, limit int) ([]auction.Bid, error) {
	var newestFirst []auction.Bid
	for index := len(store.bids) - 1; index >= 0; index-- {
		if store.bids[index].AuctionID != auctionID {
			continue
		}
		newestFirst = append(newestFirst, store.bids[index])
		if limit > 0 && len(newestFirst) == limit {
			break
		}
	}
	return newestFirst, nil
}

func (store *memStore) InsertEarning(ctx context.Context, earning *auction.OwnerEarning) error {
	earning.EarningID = store.assignID("earning")
	store.earnings[earning.AuctionID] = *earning
	return nil
}

func (store *memStore) FindEarningByAuction(ctx context.Context, auctionID string) (auction.OwnerEarning, bool, error) {
	earning, ok := store.earnings[auctionID]
	return earning, ok, nil
}

type memLedgerView struct {
	parent *memStore
}

func (view *memLedgerView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	taken := view.parent.snapshot()
	if err := fn(ctx, view); err != nil {
		view.parent.restore(taken)
		return err
	}
	return nil
}

func (view *memLedgerView) GetOrCreateBuyerForUpdate(ctx context.Context, buyerKey ledger.BuyerKey, nowUnixUTC int64) (ledger.BuyerAccount, error) {
	account, ok := view.parent.accounts[buyerKey.String()]
	if !ok {
		account = ledger.BuyerAccount{BuyerKey: buyerKey.String(), CreatedUnixUTC: nowUnixUTC}
		view.parent.accounts[buyerKey.String()] = account
	}
	return account, nil
}

func (view *memLedgerView) GetBuyer(ctx context.Context, buyerKey ledger.BuyerKey) (ledger.BuyerAccount, bool, error) {
	account, ok := view.parent.accounts[buyerKey.String()]
	return account, ok, nil
}

func (view *memLedgerView) UpdateBuyerBalance(ctx context.Context, buyerKey ledger.BuyerKey, fromCents int64, toCents int64) error {
	account, ok := view.parent.accounts[buyerKey.String()]
	if !ok || account.BalanceCents != fromCents {
		return ledger.ErrUnknownBuyer
	}
	account.BalanceCents = toCents
	view.parent.accounts[buyerKey.String()] = account
	return nil
}

func (view *memLedgerView) InsertTransaction(ctx context.Context, transaction *ledger.Transaction) error {
	transaction.TransactionID = view.parent.assignID("txn")
	view.parent.transactions = append(view.parent.transactions, *transaction)
	return nil
}

func (view *memLedgerView) FindTransactionByReference(ctx context.Context, reference ledger.Reference) (ledger.Transaction, bool, error) {
	for _, transaction := range view.parent.transactions {
		if transaction.Reference == reference.String() {
			return transaction, true, nil
		}
	}
	return ledger.Transaction{}, false, nil
}

func (view *memLedgerView) ListTransactions(ctx context.Context, buyerKey ledger.BuyerKey, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	var newestFirst []ledger.Transaction
	for index := len(view.parent.transactions) - 1; index >= 0; index-- {
		transaction := view.parent.transactions[index]
		if transaction.BuyerKey != buyerKey.String() {
			continue
		}
		newestFirst = append(newestFirst, transaction)
		if limit > 0 && len(newestFirst) == limit {
			break
		}
	}
	return newestFirst, nil
}

type memGrantView struct {
	parent *memStore
}

func (view *memGrantView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore grant.Store) error) error {
	taken := view.parent.snapshot()
	if err := fn(ctx, view); err != nil {
		view.parent.restore(taken)
		return err
	}
	return nil
}

func (view *memGrantView) InsertGrant(ctx context.Context, issued *grant.Grant) error {
	view.parent.grants[issued.GrantID] = *issued
	return nil
}

func (view *memGrantView) GetGrant(ctx context.Context, grantID string) (grant.Grant, bool, error) {
	stored, ok := view.parent.grants[grantID]
	return stored, ok, nil
}

func (view *memGrantView) GetGrantForUpdate(ctx context.Context, grantID string) (grant.Grant, bool, error) {
	return view.GetGrant(ctx, grantID)
}

func (view *memGrantView) IncrementDownloads(ctx context.Context, grantID string, fromUsed int, toUsed int) error {
	stored, ok := view.parent.grants[grantID]
	if !ok || stored.DownloadsUsed != fromUsed {
		return grant.ErrGrantConflict
	}
	stored.DownloadsUsed = toUsed
	view.parent.grants[grantID] = stored
	return nil
}

func (view *memGrantView) UpdateGrantStatus(ctx context.Context, grantID string, from grant.Status, to grant.Status) error {
	stored, ok := view.parent.grants[grantID]
	if !ok {
		return grant.ErrGrantNotFound
	}
	if stored.Status != from {
		return grant.ErrGrantRevoked
	}
	stored.Status = to
	view.parent.grants[grantID] = stored
	return nil
}
