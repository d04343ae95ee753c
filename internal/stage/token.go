// Package stage mints the short-lived credentials a participant needs to
// join the broadcast stage. Credentials are generated fresh at ACCEPT time
// because the stage transport only honors short-lived tokens.
package stage

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classlive/coordinator/internal/signaling"
)

// TokenClaims are the claims embedded in a stage room token.
type TokenClaims struct {
	Room string `json:"room"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Minter signs stage room tokens.
type Minter struct {
	secret []byte
	domain string
	ttl    time.Duration
}

// NewMinter creates a stage token minter. domain is the stage endpoint the
// client should connect to with the token.
func NewMinter(secret, domain string, ttl time.Duration) *Minter {
	return &Minter{secret: []byte(secret), domain: domain, ttl: ttl}
}

// Mint generates fresh stage credentials for a participant joining a
// session's stage room.
func (m *Minter) Mint(sessionID, participantName string) (signaling.StageCredentials, error) {
	if len(m.secret) == 0 {
		return signaling.StageCredentials{}, fmt.Errorf("stage: signing secret required")
	}
	room := "stage-" + sessionID
	expires := time.Now().Add(m.ttl)
	claims := TokenClaims{
		Room: room,
		Name: participantName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   participantName,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return signaling.StageCredentials{}, fmt.Errorf("stage: sign token: %w", err)
	}
	return signaling.StageCredentials{
		Room:    room,
		Token:   signed,
		Domain:  m.domain,
		Expires: expires.Unix(),
	}, nil
}
