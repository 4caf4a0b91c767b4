package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func adminOnlyStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:    "admin",
				DisplayName: "Administrator",
				Password:    "admin123",
				Role:        domain.RoleAdmin,
				Active:      true,
				CreatedAt:   time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	stub := adminOnlyStore()

	manager := NewAuthManager("test-secret", time.Hour, stub)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := stub.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	stub := adminOnlyStore()
	manager := NewAuthManager("test-secret", time.Hour, stub)

	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username:    "KasirBaru",
		DisplayName: "Kasir Baru",
		Password:    "pass1234",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "kasirbaru" || user.Role != domain.RoleCashier {
		t.Fatalf("unexpected user %+v", user)
	}

	saved := stub.users["kasirbaru"]
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kasirbaru", Password: "pass1234"}); err != nil {
		t.Fatalf("login with hashed user failed: %v", err)
	}

	_, err = manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "kasirbaru", Password: "pass1234"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}
}

func TestResolveIdentity(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, adminOnlyStore())

	identity, err := manager.ResolveIdentity(context.Background(), "admin")
	if err != nil {
		t.Fatalf("resolve admin failed: %v", err)
	}
	if identity.Kind != domain.ActorAdmin || identity.DisplayName != "Administrator" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	if _, err := manager.ResolveIdentity(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestParseTokenRejectsForeignIssuer(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, adminOnlyStore())

	claims := saldoClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
		Role: domain.RoleAdmin,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token from another issuer to be rejected")
	}

	own, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	actor, err := manager.ParseToken(own)
	if err != nil || actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("expected own token to parse, got %+v %v", actor, err)
	}
}
