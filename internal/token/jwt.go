package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sabi-money/sabi-server/internal/model"
)

// Claims represents JWT claims carrying the recovery request a claim token
// is bound to.
type Claims struct {
	jwt.RegisteredClaims
	RecoveryID uuid.UUID `json:"recovery_id"`
	TokenType  string    `json:"typ"`
}

// JWT implements ClaimTokenManager backed by symmetric HMAC. The token gates
// the one-time release of a reconstructed share bundle; single use is
// enforced by the store's consumed flag, the token only proves the caller
// initiated the recovery.
type JWT struct {
	secretKey string
}

// NewJWT creates a new JWT token manager with the provided secret key.
func NewJWT(secretKey string) model.ClaimTokenManager {
	return &JWT{secretKey: secretKey}
}

const typeClaim = "recovery_claim"

// IssueClaimToken creates a token bound to the recovery request, valid until
// the given deadline.
func (j *JWT) IssueClaimToken(recoveryID uuid.UUID, expiresAt time.Time) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		RecoveryID: recoveryID,
		TokenType:  typeClaim,
	})

	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign claim token: %w", err)
	}

	return tokenString, nil
}

// ParseClaimToken validates a token and extracts the recovery request ID.
func (j *JWT) ParseClaimToken(tokenString string) (uuid.UUID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return []byte(j.secretKey), nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse claim token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, fmt.Errorf("claim token is invalid")
	}
	if claims.TokenType != typeClaim {
		return uuid.Nil, fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	return claims.RecoveryID, nil
}
