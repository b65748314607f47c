package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/unlockit/unlockit-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID        uuid.UUID
	AccountStatus enums.AccountStatus
	JTI           string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID        uuid.UUID           `json:"user_id"`
	AccountStatus enums.AccountStatus `json:"account_status"`
	jwt.RegisteredClaims
}
