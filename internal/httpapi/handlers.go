package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sourcewire/auctioncore/internal/gateway"
	"github.com/sourcewire/auctioncore/pkg/auction"
	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

type registerContentRequest struct {
	PublicID     string `json:"public_id"`
	Category     string `json:"category"`
	Region       string `json:"region"`
	OwnerKey     string `json:"owner_key"`
	RevenueShare bool   `json:"revenue_share"`
}

type openAuctionRequest struct {
	ContentRef      string `json:"content_ref"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type placeBidRequest struct {
	BidderKey   string `json:"bidder_key"`
	AmountCents int64  `json:"amount_cents"`
}

type creditEventRequest struct {
	BuyerKey    string `json:"buyer_key"`
	AmountCents int64  `json:"amount_cents"`
	ExternalRef string `json:"external_ref"`
}

type downloadRequest struct {
	Token    string `json:"token"`
	MediaRef string `json:"media_ref"`
}

func (server *Server) handleRegisterContent(ctx *gin.Context) {
	var request registerContentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	content, err := server.auctionService.RegisterContent(ctx.Request.Context(), auction.ContentInput{
		PublicID:     request.PublicID,
		Category:     request.Category,
		Region:       request.Region,
		OwnerKey:     request.OwnerKey,
		RevenueShare: request.RevenueShare,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"content": contentPayloadFrom(content)})
}

func (server *Server) handleOpenAuction(ctx *gin.Context) {
	var request openAuctionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	opened, err := server.auctionService.OpenAuction(ctx.Request.Context(), request.ContentRef, request.DurationSeconds)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"auction": gin.H{
		"auction_id":       opened.AuctionID,
		"content_id":       opened.ContentID,
		"status":           opened.Status.String(),
		"ends_at_unix_utc": opened.EndsAtUnixUTC,
	}})
}

func (server *Server) handlePlaceBid(ctx *gin.Context) {
	var request placeBidRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bidderKey, err := auction.NewBidderKey(request.BidderKey)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_bidder", "bidder_key is required"))
		return
	}
	receipt, err := server.auctionService.PlaceBid(ctx.Request.Context(), ctx.Param("ref"), bidderKey, request.AmountCents)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"bid": gin.H{
		"bid_id":           receipt.BidID,
		"auction_id":       receipt.AuctionID,
		"amount_cents":     receipt.AmountCents,
		"bid_count":        receipt.BidCount,
		"ends_at_unix_utc": receipt.EndsAtUnixUTC,
		"extended":         receipt.Extended,
	}})
}

func (server *Server) handleAuctionStatus(ctx *gin.Context) {
	view, err := server.auctionService.Status(ctx.Request.Context(), ctx.Param("ref"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	bids := make([]gin.H, 0, len(view.RecentBids))
	for _, bid := range view.RecentBids {
		bids = append(bids, gin.H{
			"bidder_key":       bid.BidderKey,
			"amount_cents":     bid.AmountCents,
			"is_winning":       bid.IsWinning,
			"created_unix_utc": bid.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"auction": gin.H{
		"auction_id":             view.AuctionID,
		"content_public_id":      view.ContentPublicID,
		"status":                 string(view.Status),
		"current_bid_cents":      view.CurrentBidCents,
		"has_bid":                view.HasBid,
		"bid_count":              view.BidCount,
		"ends_at_unix_utc":       view.EndsAtUnixUTC,
		"time_remaining_seconds": view.TimeRemainingSeconds,
		"minimum_next_bid_cents": view.MinimumNextBidCents,
		"recent_bids":            bids,
	}})
}

func (server *Server) handleListAuctions(ctx *gin.Context) {
	limit := 0
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be an integer"))
			return
		}
		limit = parsed
	}
	listings, err := server.auctionService.ListActive(ctx.Request.Context(), auction.Filter{
		Category: ctx.Query("category"),
		Region:   ctx.Query("region"),
		Sort:     auction.SortKey(ctx.Query("sort")),
		Limit:    limit,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	rows := make([]gin.H, 0, len(listings))
	for _, listing := range listings {
		rows = append(rows, gin.H{
			"auction_id":             listing.AuctionID,
			"content_public_id":      listing.ContentPublicID,
			"category":               listing.Category,
			"region":                 listing.Region,
			"status":                 string(listing.Status),
			"current_bid_cents":      listing.CurrentBidCents,
			"has_bid":                listing.HasBid,
			"bid_count":              listing.BidCount,
			"ends_at_unix_utc":       listing.EndsAtUnixUTC,
			"time_remaining_seconds": listing.TimeRemainingSeconds,
			"minimum_next_bid_cents": listing.MinimumNextBidCents,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"auctions": rows})
}

func (server *Server) handleCreditEvent(ctx *gin.Context) {
	var request creditEventRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	result, err := server.gatewayAdapter.CreditsPurchased(ctx.Request.Context(), gateway.Event{
		BuyerKey:    request.BuyerKey,
		AmountCents: request.AmountCents,
		ExternalRef: request.ExternalRef,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	status := "applied"
	if result.AlreadyApplied {
		status = "already_applied"
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":      status,
		"transaction": transactionPayloadFrom(result.Transaction),
	})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	buyerKey, err := ledger.NewBuyerKey(ctx.Param("buyer_key"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_buyer", "buyer_key is required"))
		return
	}
	balance, err := server.ledgerService.Balance(ctx.Request.Context(), buyerKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"buyer_key":     buyerKey.String(),
		"balance_cents": balance,
	})
}

func (server *Server) handleTransactions(ctx *gin.Context) {
	buyerKey, err := ledger.NewBuyerKey(ctx.Param("buyer_key"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_buyer", "buyer_key is required"))
		return
	}
	before := int64(0)
	if rawBefore := ctx.Query("before"); rawBefore != "" {
		parsed, err := strconv.ParseInt(rawBefore, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be a unix timestamp"))
			return
		}
		before = parsed
	}
	limit := 20
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	transactions, err := server.ledgerService.ListTransactions(ctx.Request.Context(), buyerKey, before, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	rows := make([]gin.H, 0, len(transactions))
	for _, transaction := range transactions {
		rows = append(rows, transactionPayloadFrom(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": rows})
}

func (server *Server) handleDownload(ctx *gin.Context) {
	var request downloadRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	auth, err := server.grantService.ResolveDownload(ctx.Request.Context(), request.Token, request.MediaRef)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"download": gin.H{
		"grant_id":            auth.GrantID,
		"content_id":          auth.ContentID,
		"media_ref":           auth.MediaRef,
		"downloads_remaining": auth.DownloadsRemaining,
	}})
}

func (server *Server) handleRevokeGrant(ctx *gin.Context) {
	if err := server.grantService.Revoke(ctx.Request.Context(), ctx.Param("grant_id")); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// respondError maps domain errors onto the HTTP contract: validation
// 400, unknown subjects 404, funds 402, bidding conflicts 409, closed
// auctions 410, grant declines 403/409/410, anything else 503.
func (server *Server) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidEvent),
		errors.Is(err, auction.ErrInvalidContent),
		errors.Is(err, auction.ErrInvalidDuration),
		errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, auction.ErrInvalidBidderKey),
		errors.Is(err, auction.ErrInvalidFilter),
		errors.Is(err, ledger.ErrInvalidBuyerKey):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, auction.ErrAuctionNotFound),
		errors.Is(err, auction.ErrContentNotFound),
		errors.Is(err, grant.ErrGrantNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, ledger.ErrInsufficientCredits),
		errors.Is(err, auction.ErrInsufficientCredits):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_credits", err.Error()))
	case errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrAuctionNotActive),
		errors.Is(err, auction.ErrContentExists),
		errors.Is(err, auction.ErrAuctionExists),
		errors.Is(err, auction.ErrContentRemoved):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, auction.ErrAuctionExpired):
		ctx.JSON(http.StatusGone, errorResponse("auction_ended", err.Error()))
	case errors.Is(err, grant.ErrInvalidToken),
		errors.Is(err, grant.ErrGrantRevoked):
		ctx.JSON(http.StatusForbidden, errorResponse("access_denied", err.Error()))
	case errors.Is(err, grant.ErrDownloadsExhausted):
		ctx.JSON(http.StatusConflict, errorResponse("downloads_exhausted", err.Error()))
	case errors.Is(err, grant.ErrGrantExpired):
		ctx.JSON(http.StatusGone, errorResponse("grant_expired", err.Error()))
	default:
		server.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("unavailable", "temporary failure"))
	}
}

func contentPayloadFrom(content auction.ContentItem) gin.H {
	return gin.H{
		"content_id":       content.ContentID,
		"public_id":        content.PublicID,
		"category":         content.Category,
		"region":           content.Region,
		"owner_key":        content.OwnerKey,
		"revenue_share":    content.RevenueShare,
		"status":           string(content.Status),
		"created_unix_utc": content.CreatedUnixUTC,
	}
}

func transactionPayloadFrom(transaction ledger.Transaction) gin.H {
	metadata := json.RawMessage(transaction.MetadataJSON)
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	return gin.H{
		"transaction_id":       transaction.TransactionID,
		"buyer_key":            transaction.BuyerKey,
		"type":                 transaction.Type.String(),
		"amount_cents":         transaction.AmountCents,
		"balance_before_cents": transaction.BalanceBeforeCents,
		"balance_after_cents":  transaction.BalanceAfterCents,
		"reference":            transaction.Reference,
		"metadata":             metadata,
		"created_unix_utc":     transaction.CreatedUnixUTC,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
