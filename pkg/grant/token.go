package grant

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIDByteLength = 16
	claimGrantID      = "sub"
	claimTokenID      = "jti"
)

// TokenSigner signs and verifies download tokens. Tokens are HS256
// JWTs binding the grant id to a random token id; the token id stored
// on the grant row must match at resolve time, so a forged token for
// an unknown grant fails even if the claims parse.
type TokenSigner struct {
	signingKey []byte
	issuer     string
	nowFn      func() int64
}

// TokenClaims are the verified contents of a download token.
type TokenClaims struct {
	GrantID string
	TokenID string
}

// SignerOption configures a TokenSigner.
type SignerOption func(*TokenSigner)

// WithSignerClock overrides the clock used for claim validation.
func WithSignerClock(now func() int64) SignerOption {
	return func(signer *TokenSigner) {
		signer.nowFn = now
	}
}

// NewTokenSigner wires a TokenSigner.
func NewTokenSigner(signingKey []byte, issuer string, options ...SignerOption) (*TokenSigner, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: empty signing key", ErrInvalidSignerConfig)
	}
	if issuer == "" {
		return nil, fmt.Errorf("%w: empty issuer", ErrInvalidSignerConfig)
	}
	signer := &TokenSigner{
		signingKey: signingKey,
		issuer:     issuer,
		nowFn:      func() int64 { return time.Now().UTC().Unix() },
	}
	for _, option := range options {
		if option != nil {
			option(signer)
		}
	}
	return signer, nil
}

// Sign produces a download token for the grant.
func (signer *TokenSigner) Sign(grantID string, tokenID string, expiresAtUnixUTC int64) (string, error) {
	claims := jwt.MapClaims{
		claimGrantID: grantID,
		claimTokenID: tokenID,
		"iss":        signer.issuer,
		"exp":        expiresAtUnixUTC,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signer.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return signed, nil
}

// Parse verifies a download token and extracts its claims. Any
// verification failure, including an expired exp claim, maps to
// ErrInvalidToken; grant-level expiry is additionally re-checked
// against the stored row by the service.
func (signer *TokenSigner) Parse(rawToken string) (TokenClaims, error) {
	parsed, err := jwt.Parse(
		rawToken,
		func(token *jwt.Token) (interface{}, error) { return signer.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signer.issuer),
		jwt.WithTimeFunc(func() time.Time { return time.Unix(signer.nowFn(), 0).UTC() }),
	)
	if err != nil || !parsed.Valid {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, fmt.Errorf("%w: unexpected claims shape", ErrInvalidToken)
	}
	grantID, _ := claims[claimGrantID].(string)
	tokenID, _ := claims[claimTokenID].(string)
	if grantID == "" || tokenID == "" {
		return TokenClaims{}, fmt.Errorf("%w: missing grant binding", ErrInvalidToken)
	}
	return TokenClaims{GrantID: grantID, TokenID: tokenID}, nil
}

func newTokenID() (string, error) {
	buffer := make([]byte, tokenIDByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("token id entropy: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}
