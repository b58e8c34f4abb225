// Package identity resolves the bidder behind an incoming gRPC call.
//
// A valid "authorization: Bearer <JWT>" yields a strong identity whose id is the
// token subject. Otherwise an "x-wallet-session" value yields a weak identity.
// A presented but invalid bearer token is rejected outright; it never falls
// back to the wallet session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"github.com/autobooknft/egi-reservations/internal/errs"
	"github.com/autobooknft/egi-reservations/internal/model"
)

// WalletSessionHeader carries the wallet-session id of weak bidders.
const WalletSessionHeader = "x-wallet-session"

const (
	userPrefix   = "user:"
	walletPrefix = "wallet:"
)

// Resolver yields the bidder for a request context.
type Resolver interface {
	Resolve(ctx context.Context) (model.Bidder, error)
}

// JWTResolver verifies HS256 bearer tokens with a shared key.
type JWTResolver struct {
	signKey []byte
	leeway  time.Duration
}

// NewJWTResolver returns a resolver for tokens signed with signKey.
func NewJWTResolver(signKey []byte) *JWTResolver {
	return &JWTResolver{signKey: signKey, leeway: 30 * time.Second}
}

// Resolve implements Resolver.
func (r *JWTResolver) Resolve(ctx context.Context) (model.Bidder, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return model.Bidder{}, errs.ErrUnauthorized
	}
	if tok, ok := bearerToken(md); ok {
		sub, err := r.subject(tok)
		if err != nil {
			return model.Bidder{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
		}
		return model.Bidder{ID: userPrefix + sub, Strength: model.AuthStrong}, nil
	}
	for _, v := range md.Get(WalletSessionHeader) {
		if v = strings.TrimSpace(v); v != "" {
			return model.Bidder{ID: walletPrefix + v, Strength: model.AuthWeak}, nil
		}
	}
	return model.Bidder{}, errs.ErrUnauthorized
}

func (r *JWTResolver) subject(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return r.signKey, nil
	}, jwt.WithLeeway(r.leeway))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("empty subject")
	}
	return claims.Subject, nil
}

func bearerToken(md metadata.MD) (string, bool) {
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, true
			}
		}
	}
	return "", false
}

// IssueToken signs an HS256 access token for subject. Used by the dev CLI and tests.
func IssueToken(signKey []byte, subject string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
