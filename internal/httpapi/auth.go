package httpapi

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

const tokenIssuer = "dresscode"

// TokenVerifier turns a bearer token into the calling actor.
type TokenVerifier interface {
	ParseToken(token string) (domain.Actor, error)
}

var _ TokenVerifier = (*AuthManager)(nil)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	validate  *validator.Validate
	log       *zap.Logger
}

type credential struct {
	password string
	role     string
	storeID  string
	email    string
	active   bool
	created  time.Time
}

type dresscodeClaims struct {
	jwtlib.RegisteredClaims
	Role    string `json:"role"`
	StoreID string `json:"store_id,omitempty"`
	Email   string `json:"email,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, log *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
	}
	manager.bootstrapUsers(context.Background())
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	// pick up accounts added by other instances
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, apperr.Unauthorized("invalid credentials")
	}
	if !cred.active {
		return domain.LoginResponse{}, apperr.Unauthorized("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, apperr.Internal(err)
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		StoreID:     cred.storeID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &dresscodeClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, apperr.Unauthorized("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, apperr.Unauthorized("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role, StoreID: claims.StoreID, Email: claims.Email}, nil
}

func (a *AuthManager) sign(username string, cred credential, expiresAt time.Time) (string, error) {
	claims := dresscodeClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role:    cred.role,
		StoreID: cred.storeID,
		Email:   cred.email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateUser registers an account. Store managers must name their store.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.CreateUserRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	req.Username = username
	if err := a.validate.Struct(req); err != nil {
		return domain.UserAccount{}, apperr.BadRequest("invalid user: %v", err)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, apperr.BadRequest("username must not contain spaces")
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserAccount{}, apperr.Conflict("username already exists")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, apperr.Internal(err)
	}
	user := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      req.Role,
		StoreID:   strings.TrimSpace(req.StoreID),
		Email:     strings.TrimSpace(req.Email),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.UserAccount{}, apperr.Wrap(apperr.KindConflict, err, "username already exists")
			}
			return domain.UserAccount{}, apperr.Internal(err)
		}
	}

	a.mu.Lock()
	a.users[username] = credentialOf(user)
	a.mu.Unlock()

	user.Password = ""
	return user, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserAccount {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserAccount, 0, len(a.users))
	for username, c := range a.users {
		result = append(result, domain.UserAccount{
			Username:  username,
			Role:      c.role,
			StoreID:   c.storeID,
			Email:     c.email,
			Active:    c.active,
			CreatedAt: c.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

func credentialOf(u domain.UserAccount) credential {
	return credential{
		password: u.Password,
		role:     u.Role,
		storeID:  u.StoreID,
		email:    u.Email,
		active:   u.Active,
		created:  u.CreatedAt,
	}
}

// bootstrapUsers refreshes the credential cache from the user store and
// upgrades any plain-text passwords it finds to bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.log.Warn("load user accounts", zap.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hashed, err := hashPassword(user.Password)
			if err == nil {
				user.Password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.log.Warn("upgrade password hash", zap.String("username", username), zap.Error(err))
				}
			}
		}
		a.users[username] = credentialOf(user)
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
