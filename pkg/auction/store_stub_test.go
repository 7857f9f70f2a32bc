package auction

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

// stubStore is an in-memory Store covering the auction, ledger, and
// grant state that settlement touches in one transaction.
type stubStore struct {
	contents     map[string]ContentItem
	auctions     map[string]Auction
	bids         []Bid
	earnings     map[string]OwnerEarning
	accounts     map[string]ledger.BuyerAccount
	transactions []ledger.Transaction
	grants       map[string]grant.Grant
	nextID       int

	insertGrantErr   error
	insertEarningErr error
}

func newStubAuctionStore() *stubStore {
	return &stubStore{
		contents: map[string]ContentItem{},
		auctions: map[string]Auction{},
		earnings: map[string]OwnerEarning{},
		accounts: map[string]ledger.BuyerAccount{},
		grants:   map[string]grant.Grant{},
	}
}

type stubSnapshot struct {
	contents     map[string]ContentItem
	auctions     map[string]Auction
	bids         []Bid
	earnings     map[string]OwnerEarning
	accounts     map[string]ledger.BuyerAccount
	transactions []ledger.Transaction
	grants       map[string]grant.Grant
	nextID       int
}

func (store *stubStore) snapshot() stubSnapshot {
	taken := stubSnapshot{
		contents: make(map[string]ContentItem, len(store.contents)),
		auctions: make(map[string]Auction, len(store.auctions)),
		earnings: make(map[string]OwnerEarning, len(store.earnings)),
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
	taken.bids = append([]Bid(nil), store.bids...)
	taken.transactions = append([]ledger.Transaction(nil), store.transactions...)
	return taken
}

func (store *stubStore) restore(taken stubSnapshot) {
	store.contents = taken.contents
	store.auctions = taken.auctions
	store.bids = taken.bids
	store.earnings = taken.earnings
	store.accounts = taken.accounts
	store.transactions = taken.transactions
	store.grants = taken.grants
	store.nextID = taken.nextID
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	taken := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(taken)
		return err
	}
	return nil
}

func (store *stubStore) Ledger() ledger.Store {
	return &stubLedgerView{parent: store}
}

func (store *stubStore) Grants() grant.Store {
	return &stubGrantView{parent: store}
}

func (store *stubStore) assignID(prefix string) string {
	store.nextID++
	return fmt.Sprintf("%s-%d", prefix, store.nextID)
}

func (store *stubStore) CreateContent(ctx context.Context, content *ContentItem) error {
	content.ContentID = store.assignID("content")
	store.contents[content.ContentID] = *content
	return nil
}

func (store *stubStore) GetContent(ctx context.Context, contentID string) (ContentItem, bool, error) {
	content, ok := store.contents[contentID]
	return content, ok, nil
}

func (store *stubStore) FindContentByPublicID(ctx context.Context, publicID string) (ContentItem, bool, error) {
	for _, content := range store.contents {
		if content.PublicID == publicID {
			return content, true, nil
		}
	}
	return ContentItem{}, false, nil
}

func (store *stubStore) CreateAuction(ctx context.Context, auction *Auction) error {
	auction.AuctionID = store.assignID("auction")
	store.auctions[auction.AuctionID] = *auction
	return nil
}

func (store *stubStore) GetAuction(ctx context.Context, auctionID string) (Auction, bool, error) {
	auction, ok := store.auctions[auctionID]
	return auction, ok, nil
}

func (store *stubStore) GetAuctionForUpdate(ctx context.Context, auctionID string) (Auction, bool, error) {
	return store.GetAuction(ctx, auctionID)
}

func (store *stubStore) GetAuctionByContentID(ctx context.Context, contentID string) (Auction, bool, error) {
	for _, auction := range store.auctions {
		if auction.ContentID == contentID {
			return auction, true, nil
		}
	}
	return Auction{}, false, nil
}

func (store *stubStore) UpdateAuctionBid(ctx context.Context, auctionID string, amountCents int64, bidderKey string, bidCount int64, endsAtUnixUTC int64) error {
	auction, ok := store.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	auction.CurrentBidCents = amountCents
	auction.CurrentBidderKey = bidderKey
	auction.BidCount = bidCount
	auction.EndsAtUnixUTC = endsAtUnixUTC
	store.auctions[auctionID] = auction
	return nil
}

func (store *stubStore) TransitionAuctionStatus(ctx context.Context, auctionID string, from Status, to Status) error {
	auction, ok := store.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if auction.Status != from {
		return ErrAuctionConflict
	}
	auction.Status = to
	store.auctions[auctionID] = auction
	return nil
}

func (store *stubStore) ListAuctions(ctx context.Context, filter Filter) ([]AuctionWithContent, error) {
	var rows []AuctionWithContent
	for _, auction := range store.auctions {
		if auction.Status != StatusActive {
			continue
		}
		content := store.contents[auction.ContentID]
		if filter.Category != "" && content.Category != filter.Category {
			continue
		}
		if filter.Region != "" && content.Region != filter.Region {
			continue
		}
		rows = append(rows, AuctionWithContent{Auction: auction, Content: content})
	}
	sort.Slice(rows, func(left, right int) bool {
		switch filter.Sort {
		case SortNewest:
			return rows[left].Auction.CreatedUnixUTC > rows[right].Auction.CreatedUnixUTC
		case SortHighestBid:
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

func (store *stubStore) ListDueAuctionIDs(ctx context.Context, nowUnixUTC int64, limit int) ([]string, error) {
	var due []string
	for auctionID, auction := range store.auctions {
		if auction.Status == StatusActive && auction.EndsAtUnixUTC <= nowUnixUTC {
			due = append(due, auctionID)
		}
	}
	sort.Strings(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (store *stubStore) InsertBid(ctx context.Context, bid *Bid) error {
	bid.BidID = store.assignID("bid")
	store.bids = append(store.bids, *bid)
	return nil
}

func (store *stubStore) DemoteWinningBid(ctx context.Context, auctionID string) error {
	for index := range store.bids {
		if store.bids[index].AuctionID == auctionID && store.bids[index].IsWinning {
			store.bids[index].IsWinning = false
		}
	}
	return nil
}

func (store *stubStore) InvalidateWinningBid(ctx context.Context, auctionID string) error {
	for index := range store.bids {
		if store.bids[index].AuctionID == auctionID && store.bids[index].IsWinning {
			store.bids[index].IsWinning = false
			store.bids[index].Invalidated = true
		}
	}
	return nil
}

func (store *stubStore) GetWinningBid(ctx context.Context, auctionID string) (Bid, bool, error) {
	for _, bid := range store.bids {
		if bid.AuctionID == auctionID && bid.IsWinning {
			return bid, true, nil
		}
	}
	return Bid{}, false, nil
}

func (store *stubStore) ListBids(ctx context.Context, auctionID string, limit int) ([]Bid, error) {
	var newestFirst []Bid
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

func (store *stubStore) InsertEarning(ctx context.Context, earning *OwnerEarning) error {
	if store.insertEarningErr != nil {
		return store.insertEarningErr
	}
	earning.EarningID = store.assignID("earning")
	store.earnings[earning.AuctionID] = *earning
	return nil
}

func (store *stubStore) FindEarningByAuction(ctx context.Context, auctionID string) (OwnerEarning, bool, error) {
	earning, ok := store.earnings[auctionID]
	return earning, ok, nil
}

// stubLedgerView exposes the shared state through the ledger contract.
type stubLedgerView struct {
	parent *stubStore
}

func (view *stubLedgerView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	taken := view.parent.snapshot()
	if err := fn(ctx, view); err != nil {
		view.parent.restore(taken)
		return err
	}
	return nil
}

func (view *stubLedgerView) GetOrCreateBuyerForUpdate(ctx context.Context, buyerKey ledger.BuyerKey, nowUnixUTC int64) (ledger.BuyerAccount, error) {
	account, ok := view.parent.accounts[buyerKey.String()]
	if !ok {
		account = ledger.BuyerAccount{BuyerKey: buyerKey.String(), CreatedUnixUTC: nowUnixUTC}
		view.parent.accounts[buyerKey.String()] = account
	}
	return account, nil
}

func (view *stubLedgerView) GetBuyer(ctx context.Context, buyerKey ledger.BuyerKey) (ledger.BuyerAccount, bool, error) {
	account, ok := view.parent.accounts[buyerKey.String()]
	return account, ok, nil
}

func (view *stubLedgerView) UpdateBuyerBalance(ctx context.Context, buyerKey ledger.BuyerKey, fromCents int64, toCents int64) error {
	account, ok := view.parent.accounts[buyerKey.String()]
	if !ok || account.BalanceCents != fromCents {
		return ledger.ErrUnknownBuyer
	}
	account.BalanceCents = toCents
	view.parent.accounts[buyerKey.String()] = account
	return nil
}

func (view *stubLedgerView) InsertTransaction(ctx context.Context, transaction *ledger.Transaction) error {
	transaction.TransactionID = view.parent.assignID("txn")
	view.parent.transactions = append(view.parent.transactions, *transaction)
	return nil
}

func (view *stubLedgerView) FindTransactionByReference(ctx context.Context, reference ledger.Reference) (ledger.Transaction, bool, error) {
	for _, transaction := range view.parent.transactions {
		if transaction.Reference == reference.String() {
			return transaction, true, nil
		}
	}
	return ledger.Transaction{}, false, nil
}

func (view *stubLedgerView) ListTransactions(ctx context.Context, buyerKey ledger.BuyerKey, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
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

// stubGrantView exposes the shared state through the grant contract.
type stubGrantView struct {
	parent *stubStore
}

func (view *stubGrantView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore grant.Store) error) error {
	taken := view.parent.snapshot()
	if err := fn(ctx, view); err != nil {
		view.parent.restore(taken)
		return err
	}
	return nil
}

func (view *stubGrantView) InsertGrant(ctx context.Context, issued *grant.Grant) error {
	if view.parent.insertGrantErr != nil {
		return view.parent.insertGrantErr
	}
	view.parent.grants[issued.GrantID] = *issued
	return nil
}

func (view *stubGrantView) GetGrant(ctx context.Context, grantID string) (grant.Grant, bool, error) {
	stored, ok := view.parent.grants[grantID]
	return stored, ok, nil
}

func (view *stubGrantView) GetGrantForUpdate(ctx context.Context, grantID string) (grant.Grant, bool, error) {
	return view.GetGrant(ctx, grantID)
}

func (view *stubGrantView) IncrementDownloads(ctx context.Context, grantID string, fromUsed int, toUsed int) error {
	stored, ok := view.parent.grants[grantID]
	if !ok || stored.DownloadsUsed != fromUsed {
		return grant.ErrGrantConflict
	}
	stored.DownloadsUsed = toUsed
	view.parent.grants[grantID] = stored
	return nil
}

func (view *stubGrantView) UpdateGrantStatus(ctx context.Context, grantID string, from grant.Status, to grant.Status) error {
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

func (store *stubStore) mustAuction(test *testing.T, auctionID string) Auction {
	test.Helper()
	auction, ok := store.auctions[auctionID]
	if !ok {
		test.Fatalf("auction %s not found", auctionID)
	}
	return auction
}

func (store *stubStore) winningBids(auctionID string) []Bid {
	var winning []Bid
	for _, bid := range store.bids {
		if bid.AuctionID == auctionID && bid.IsWinning {
			winning = append(winning, bid)
		}
	}
	return winning
}

func (store *stubStore) transactionsOfType(kind ledger.TransactionType) []ledger.Transaction {
	var matching []ledger.Transaction
	for _, transaction := range store.transactions {
		if transaction.Type == kind {
			matching = append(matching, transaction)
		}
	}
	return matching
}

func (store *stubStore) fundBuyer(buyerKey string, balanceCents int64) {
	store.accounts[buyerKey] = ledger.BuyerAccount{BuyerKey: buyerKey, BalanceCents: balanceCents}
}
