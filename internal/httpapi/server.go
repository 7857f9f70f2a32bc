package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sourcewire/auctioncore/internal/gateway"
	"github.com/sourcewire/auctioncore/pkg/auction"
	"github.com/sourcewire/auctioncore/pkg/grant"
	"github.com/sourcewire/auctioncore/pkg/ledger"
)

// Server is the HTTP façade over the auction engine.
type Server struct {
	cfg            Config
	logger         *zap.Logger
	auctionService *auction.Service
	ledgerService  *ledger.Service
	grantService   *grant.Service
	gatewayAdapter *gateway.Adapter
}

// NewServer wires a Server.
func NewServer(
	cfg Config,
	logger *zap.Logger,
	auctionService *auction.Service,
	ledgerService *ledger.Service,
	grantService *grant.Service,
	gatewayAdapter *gateway.Adapter,
) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if auctionService == nil || ledgerService == nil || grantService == nil || gatewayAdapter == nil {
		return nil, fmt.Errorf("all services are required")
	}
	return &Server{
		cfg:            cfg,
		logger:         logger,
		auctionService: auctionService,
		ledgerService:  ledgerService,
		grantService:   grantService,
		gatewayAdapter: gatewayAdapter,
	}, nil
}

// Router builds the gin engine with all routes attached.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/contents", server.handleRegisterContent)
	api.POST("/auctions", server.handleOpenAuction)
	api.GET("/auctions", server.handleListAuctions)
	api.GET("/auctions/:ref", server.handleAuctionStatus)
	api.POST("/auctions/:ref/bids", server.handlePlaceBid)
	api.POST("/credits/events", server.handleCreditEvent)
	api.GET("/buyers/:buyer_key/balance", server.handleBalance)
	api.GET("/buyers/:buyer_key/transactions", server.handleTransactions)
	api.POST("/downloads", server.handleDownload)
	api.POST("/grants/:grant_id/revoke", server.handleRevokeGrant)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("auction api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
