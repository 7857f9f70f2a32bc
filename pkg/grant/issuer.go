package grant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Issuer creates grants inside a caller-owned transaction. Settlement
// holds the transaction; the issuer only writes the row and signs the
// token.
type Issuer struct {
	signer *TokenSigner
}

// NewIssuer wires an Issuer.
func NewIssuer(signer *TokenSigner) (*Issuer, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: signer dependency is nil", ErrInvalidServiceConfig)
	}
	return &Issuer{signer: signer}, nil
}

// Issue writes a grant row and returns it together with the signed
// download token. The store must be a transaction view; a failed
// insert leaves nothing behind.
func (issuer *Issuer) Issue(ctx context.Context, store Store, nowUnixUTC int64, input IssueInput) (IssuedGrant, error) {
	if err := input.Validate(); err != nil {
		return IssuedGrant{}, err
	}
	tokenID, err := newTokenID()
	if err != nil {
		return IssuedGrant{}, err
	}
	issued := Grant{
		GrantID:          uuid.NewString(),
		BuyerKey:         input.BuyerKey,
		ContentID:        input.ContentID,
		AuctionID:        input.AuctionID,
		AmountCents:      input.AmountCents,
		TokenID:          tokenID,
		MaxDownloads:     input.MaxDownloads,
		ExpiresAtUnixUTC: input.ExpiresAtUnixUTC,
		Status:           StatusActive,
		CreatedUnixUTC:   nowUnixUTC,
	}
	if err := store.InsertGrant(ctx, &issued); err != nil {
		return IssuedGrant{}, err
	}
	token, err := issuer.signer.Sign(issued.GrantID, issued.TokenID, issued.ExpiresAtUnixUTC)
	if err != nil {
		return IssuedGrant{}, err
	}
	return IssuedGrant{Grant: issued, Token: token}, nil
}
