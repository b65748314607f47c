package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/unlockit/unlockit-backend/internal/users"
	pkgauth "github.com/unlockit/unlockit-backend/pkg/auth"
	"github.com/unlockit/unlockit-backend/pkg/auth/session"
	"github.com/unlockit/unlockit-backend/pkg/config"
	"github.com/unlockit/unlockit-backend/pkg/db/models"
	"github.com/unlockit/unlockit-backend/pkg/enums"
	pkgerrors "github.com/unlockit/unlockit-backend/pkg/errors"
	"github.com/unlockit/unlockit-backend/pkg/security"
)

type stubUsers struct {
	byEmail map[string]*models.User
	created []users.CreateUserDTO
	findErr error
}

func newStubUsers() *stubUsers {
	return &stubUsers{byEmail: map[string]*models.User{}}
}

func (s *stubUsers) Create(_ context.Context, dto users.CreateUserDTO) (*models.User, error) {
	s.created = append(s.created, dto)
	user := &models.User{
		ID:            uuid.New(),
		Email:         dto.Email,
		Username:      dto.Username,
		PasswordHash:  dto.PasswordHash,
		Name:          dto.Name,
		AccountStatus: enums.AccountStatusActive,
	}
	s.byEmail[dto.Email] = user
	return user, nil
}

func (s *stubUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	user, ok := s.byEmail[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (s *stubUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	for _, user := range s.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUsers) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	for _, user := range s.byEmail {
		if user.ID == id {
			stamp := at
			user.LastLoginAt = &stamp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type stubSessions struct {
	tokens    map[string]string
	rotateErr error
	revoked   []string
}

func newStubSessions() *stubSessions {
	return &stubSessions{tokens: map[string]string{}}
}

func (s *stubSessions) Generate(_ context.Context, accessID string) (string, error) {
	token := "refresh-" + accessID
	s.tokens[accessID] = token
	return token, nil
}

func (s *stubSessions) Rotate(_ context.Context, oldAccessID, provided string) (string, string, error) {
	if s.rotateErr != nil {
		return "", "", s.rotateErr
	}
	stored, ok := s.tokens[oldAccessID]
	if !ok || stored != provided {
		return "", "", session.ErrInvalidRefreshToken
	}
	delete(s.tokens, oldAccessID)
	newID := session.NewAccessID()
	token := "refresh-" + newID
	s.tokens[newID] = token
	return newID, token, nil
}

func (s *stubSessions) Revoke(_ context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	delete(s.tokens, accessID)
	return nil
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:                 "auth-service-test-secret",
		Issuer:                 "unlockit-test",
		ExpirationMinutes:      15,
		RefreshTokenTTLMinutes: 60,
	}
}

func newTestService(t *testing.T, repo userRepository, sessions sessionManager) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: sessions,
		JWTConfig:      testJWTConfig(),
		PasswordConfig: config.PasswordConfig{
			ArgonMemoryKB:    8 * 1024,
			ArgonTime:        1,
			ArgonParallelism: 1,
			ArgonSaltLen:     16,
			ArgonKeyLen:      32,
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedAccount(t *testing.T, repo *stubUsers, email, password string) *models.User {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{
		ArgonMemoryKB:    8 * 1024,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		AccountStatus: enums.AccountStatusActive,
	}
	repo.byEmail[email] = user
	return user
}

func assertCode(t *testing.T, err error, want pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	if got := pkgerrors.As(err).Code(); got != want {
		t.Fatalf("expected code %s, got %s (%v)", want, got, err)
	}
}

func TestRegisterCreatesAccountAndSession(t *testing.T) {
	repo := newStubUsers()
	sessions := newStubSessions()
	svc := newTestService(t, repo, sessions)

	name := "  Ada Lovelace "
	resp, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "Ada@Example.COM ",
		Password: "correct horse",
		Name:     &name,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one created user, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
	if created.Name == nil || *created.Name != "Ada Lovelace" {
		t.Fatalf("expected trimmed name, got %v", created.Name)
	}
	if strings.Contains(created.PasswordHash, "correct horse") {
		t.Fatal("password stored in the clear")
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected session tokens on register")
	}
	if resp.User == nil || resp.User.Email != "ada@example.com" {
		t.Fatalf("unexpected user in response: %+v", resp.User)
	}

	claims, err := pkgauth.ParseAccessToken(testJWTConfig(), resp.AccessToken)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if _, ok := sessions.tokens[claims.ID]; !ok {
		t.Fatal("expected session stored under the token jti")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	repo := newStubUsers()
	sessions := newStubSessions()
	svc := newTestService(t, repo, sessions)
	seedAccount(t, repo, "taken@example.com", "irrelevant1")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "taken@example.com",
		Password: "longenough",
	})
	assertCode(t, err, pkgerrors.CodeConflict)
}

func TestRegisterRejectsShortPasswords(t *testing.T) {
	svc := newTestService(t, newStubUsers(), newStubSessions())

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "short@example.com",
		Password: "seven77",
	})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestLoginReturnsSessionForValidCredentials(t *testing.T) {
	repo := newStubUsers()
	sessions := newStubSessions()
	svc := newTestService(t, repo, sessions)
	user := seedAccount(t, repo, "login@example.com", "opensesame")

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    " Login@Example.com",
		Password: "opensesame",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.User.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, resp.User.ID)
	}
	if user.LastLoginAt == nil {
		t.Fatal("expected last login to be recorded")
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected session tokens on login")
	}
}

func TestLoginUsesUniformRejection(t *testing.T) {
	repo := newStubUsers()
	svc := newTestService(t, repo, newStubSessions())
	seedAccount(t, repo, "known@example.com", "rightpassword")

	_, wrongPassword := svc.Login(context.Background(), LoginRequest{
		Email:    "known@example.com",
		Password: "wrongpassword",
	})
	_, unknownEmail := svc.Login(context.Background(), LoginRequest{
		Email:    "nobody@example.com",
		Password: "rightpassword",
	})

	assertCode(t, wrongPassword, pkgerrors.CodeUnauthorized)
	assertCode(t, unknownEmail, pkgerrors.CodeUnauthorized)
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("rejection messages differ: %q vs %q", wrongPassword, unknownEmail)
	}
}

func TestLoginRejectsDeactivatedAccounts(t *testing.T) {
	repo := newStubUsers()
	svc := newTestService(t, repo, newStubSessions())
	user := seedAccount(t, repo, "gone@example.com", "stillvalid1")
	user.AccountStatus = enums.AccountStatusDeactivated

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "gone@example.com",
		Password: "stillvalid1",
	})
	assertCode(t, err, pkgerrors.CodeForbidden)
}

func TestRefreshRotatesSession(t *testing.T) {
	repo := newStubUsers()
	sessions := newStubSessions()
	svc := newTestService(t, repo, sessions)
	seedAccount(t, repo, "rotate@example.com", "opensesame")

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "rotate@example.com",
		Password: "opensesame",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), RefreshRequest{
		AccessToken:  login.AccessToken,
		RefreshToken: login.RefreshToken,
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if refreshed.AccessToken == "" {
		t.Fatal("expected a new access token")
	}

	// the old pair is burned
	_, err = svc.Refresh(context.Background(), RefreshRequest{
		AccessToken:  login.AccessToken,
		RefreshToken: login.RefreshToken,
	})
	assertCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestRefreshRejectsGarbageAccessTokens(t *testing.T) {
	svc := newTestService(t, newStubUsers(), newStubSessions())

	_, err := svc.Refresh(context.Background(), RefreshRequest{
		AccessToken:  "not-a-jwt",
		RefreshToken: "whatever",
	})
	assertCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestLogoutRevokesSession(t *testing.T) {
	repo := newStubUsers()
	sessions := newStubSessions()
	svc := newTestService(t, repo, sessions)
	seedAccount(t, repo, "bye@example.com", "opensesame")

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "bye@example.com",
		Password: "opensesame",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := pkgauth.ParseAccessToken(testJWTConfig(), login.AccessToken)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}

	if err := svc.Logout(context.Background(), claims.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != claims.ID {
		t.Fatalf("expected jti revoked, got %v", sessions.revoked)
	}
	if errors.Is(svc.Logout(context.Background(), "  "), nil) {
		t.Fatal("expected blank session id to be rejected")
	}
}
