package auth

import "github.com/unlockit/unlockit-backend/internal/users"

// RegisterRequest contains the payload required to open a creator account.
type RegisterRequest struct {
	Name     *string `json:"name,omitempty"`
	Username *string `json:"username,omitempty"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
}

// LoginRequest carries the credentials for an email/password login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest rotates a session using the expired access token and its
// refresh token.
type RefreshRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LoginResponse is returned on login, register, and refresh.
type LoginResponse struct {
	User         *users.UserDTO `json:"user"`
	AccessToken  string         `json:"-"`
	RefreshToken string         `json:"refresh_token"`
}
