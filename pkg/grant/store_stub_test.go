package grant

import (
	"context"
	"testing"
)

// stubStore is an in-memory Store for service tests.
type stubStore struct {
	grants map[string]Grant
}

func newStubStore() *stubStore {
	return &stubStore{grants: map[string]Grant{}}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	snapshot := make(map[string]Grant, len(store.grants))
	for key, stored := range store.grants {
		snapshot[key] = stored
	}
	if err := fn(ctx, store); err != nil {
		store.grants = snapshot
		return err
	}
	return nil
}

func (store *stubStore) InsertGrant(ctx context.Context, grant *Grant) error {
	store.grants[grant.GrantID] = *grant
	return nil
}

func (store *stubStore) GetGrant(ctx context.Context, grantID string) (Grant, bool, error) {
	stored, ok := store.grants[grantID]
	return stored, ok, nil
}

func (store *stubStore) GetGrantForUpdate(ctx context.Context, grantID string) (Grant, bool, error) {
	return store.GetGrant(ctx, grantID)
}

func (store *stubStore) IncrementDownloads(ctx context.Context, grantID string, fromUsed int, toUsed int) error {
	stored, ok := store.grants[grantID]
	if !ok || stored.DownloadsUsed != fromUsed {
		return ErrGrantConflict
	}
	stored.DownloadsUsed = toUsed
	store.grants[grantID] = stored
	return nil
}

func (store *stubStore) UpdateGrantStatus(ctx context.Context, grantID string, from Status, to Status) error {
	stored, ok := store.grants[grantID]
	if !ok {
		return ErrGrantNotFound
	}
	if stored.Status != from {
		return ErrGrantRevoked
	}
	stored.Status = to
	store.grants[grantID] = stored
	return nil
}

func (store *stubStore) mustGrant(test *testing.T, grantID string) Grant {
	test.Helper()
	stored, ok := store.grants[grantID]
	if !ok {
		test.Fatalf("grant %s not found", grantID)
	}
	return stored
}
