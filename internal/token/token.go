// Package token issues and verifies the room-scoped JWTs that bind a
// websocket to a (room, player, session) triple.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nightcourt/mafiad/internal/types"
)

// Lifetime matches the room TTL so a token never outlives its room.
const Lifetime = 24 * time.Hour

// RefreshWindow is how close to expiry a token gets before the server
// proactively reissues it.
const RefreshWindow = 5 * time.Minute

// Claims scope a token to one player in one room. A token for room A is
// worthless in room B.
type Claims struct {
	RoomID    string `json:"roomId"`
	PlayerID  string `json:"playerId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies room tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("token: secret must be at least 32 bytes")
	}
	return &Issuer{secret: secret, now: time.Now}, nil
}

// Issue mints a token for the given identity.
func (i *Issuer) Issue(roomID, playerID, sessionID string) (string, error) {
	now := i.now()
	claims := Claims{
		RoomID:    roomID,
		PlayerID:  playerID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token for the given room. Expired, altered,
// or foreign-room tokens all surface as UNAUTHORIZED.
func (i *Issuer) Verify(raw, roomID string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, types.Unauthorized("invalid token")
	}
	if claims.RoomID != roomID {
		return Claims{}, types.Unauthorized("token is for another room")
	}
	return claims, nil
}

// RefreshIfNeeded reissues a token once it is within RefreshWindow of
// expiry. The empty string means the current token is still fresh.
func (i *Issuer) RefreshIfNeeded(claims Claims) (string, error) {
	if claims.ExpiresAt == nil {
		return "", types.Unauthorized("token has no expiry")
	}
	if claims.ExpiresAt.Time.Sub(i.now()) > RefreshWindow {
		return "", nil
	}
	return i.Issue(claims.RoomID, claims.PlayerID, claims.SessionID)
}
