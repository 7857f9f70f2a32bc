package grant

import (
	"context"
	"fmt"
	"strings"
)

// Service resolves downloads against issued grants and handles
// revocation.
type Service struct {
	store  Store
	signer *TokenSigner
	nowFn  func() int64
}

// NewService wires a Service.
func NewService(store Store, signer *TokenSigner, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: signer dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, signer: signer, nowFn: now}, nil
}

// ResolveDownload consumes one download from the grant behind the
// token. The counter increment and the grant checks run in one
// transaction; a declined resolve never burns a download.
func (service *Service) ResolveDownload(ctx context.Context, rawToken string, mediaRef string) (DownloadAuth, error) {
	if strings.TrimSpace(mediaRef) == "" {
		return DownloadAuth{}, fmt.Errorf("%w: empty media ref", ErrInvalidToken)
	}
	claims, err := service.signer.Parse(rawToken)
	if err != nil {
		return DownloadAuth{}, err
	}
	var authorization DownloadAuth
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		stored, found, err := transactionStore.GetGrantForUpdate(ctx, claims.GrantID)
		if err != nil {
			return err
		}
		if !found || stored.TokenID != claims.TokenID {
			return ErrInvalidToken
		}
		if stored.Status == StatusRevoked {
			return ErrGrantRevoked
		}
		if service.nowFn() >= stored.ExpiresAtUnixUTC {
			return ErrGrantExpired
		}
		if stored.DownloadsUsed >= stored.MaxDownloads {
			return ErrDownloadsExhausted
		}
		if err := transactionStore.IncrementDownloads(ctx, stored.GrantID, stored.DownloadsUsed, stored.DownloadsUsed+1); err != nil {
			return err
		}
		authorization = DownloadAuth{
			GrantID:            stored.GrantID,
			ContentID:          stored.ContentID,
			MediaRef:           mediaRef,
			DownloadsRemaining: stored.MaxDownloads - stored.DownloadsUsed - 1,
		}
		return nil
	})
	if err != nil {
		return DownloadAuth{}, err
	}
	return authorization, nil
}

// Revoke marks a grant revoked. Revoking an already revoked grant
// reports ErrGrantRevoked.
func (service *Service) Revoke(ctx context.Context, grantID string) error {
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		_, found, err := transactionStore.GetGrantForUpdate(ctx, grantID)
		if err != nil {
			return err
		}
		if !found {
			return ErrGrantNotFound
		}
		return transactionStore.UpdateGrantStatus(ctx, grantID, StatusActive, StatusRevoked)
	})
}

// Get returns a grant by id.
func (service *Service) Get(ctx context.Context, grantID string) (Grant, error) {
	stored, found, err := service.store.GetGrant(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if !found {
		return Grant{}, ErrGrantNotFound
	}
	return stored, nil
}
