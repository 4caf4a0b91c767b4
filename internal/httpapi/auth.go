package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"saldo/backend/internal/domain"
	"saldo/backend/internal/store"
)

const tokenIssuer = "saldo"

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	displayName string
	password    string
	role        string
	active      bool
	created     time.Time
}

type saldoClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &saldoClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := saldoClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ResolveIdentity maps a token subject to the identity stamped on journal
// entries and snapshots. Inactive or unknown users are store.ErrNotFound.
func (a *AuthManager) ResolveIdentity(ctx context.Context, actorID string) (domain.Identity, error) {
	username := strings.ToLower(strings.TrimSpace(actorID))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		a.bootstrapUsers(ctx)
		a.mu.RLock()
		cred, ok = a.users[username]
		a.mu.RUnlock()
	}
	if !ok || !cred.active {
		return domain.Identity{}, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}

	kind := domain.ActorUser
	if cred.role == domain.RoleAdmin {
		kind = domain.ActorAdmin
	}
	name := cred.displayName
	if name == "" {
		name = username
	}
	return domain.Identity{ID: username, DisplayName: name, Kind: kind}, nil
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.User{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("username must not contain spaces")
	}
	if len(req.Password) < 8 {
		return domain.User{}, fmt.Errorf("password must be at least 8 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleCashier && role != domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("unknown role %q", role)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.User{}, fmt.Errorf("username %w", store.ErrConflict)
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password")
	}
	displayName := strings.TrimSpace(req.DisplayName)

	if a.userStore != nil {
		err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:    username,
			DisplayName: displayName,
			Password:    passwordHash,
			Role:        role,
			Active:      true,
			CreatedAt:   now,
		})
		if err != nil {
			return domain.User{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		displayName: displayName,
		password:    passwordHash,
		role:        role,
		active:      true,
		created:     now,
	}
	a.mu.Unlock()

	return domain.User{
		Username:    username,
		DisplayName: displayName,
		Role:        role,
		Active:      true,
		CreatedAt:   now,
	}, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.User {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.User, 0, len(a.users))
	for username, user := range a.users {
		result = append(result, domain.User{
			Username:    username,
			DisplayName: user.displayName,
			Role:        user.role,
			Active:      user.active,
			CreatedAt:   user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. Legacy plain-text passwords are upgraded to bcrypt
// hashes in the store on the way.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			displayName: user.DisplayName,
			password:    password,
			role:        user.Role,
			active:      user.Active,
			created:     user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
