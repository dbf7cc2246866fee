package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const tokenIssuer = "pharmacy-backend"

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	staff    StaffStore
	now      func() time.Time
}

// StaffStore is the slice of the repository that authentication needs.
type StaffStore interface {
	CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error)
	GetStaffByEmail(ctx context.Context, email string) (*domain.Staff, error)
	GetStaffByID(ctx context.Context, id domain.OwnerID) (*domain.Staff, error)
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, staff StaffStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		staff:    staff,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.Staff, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return domain.Staff{}, fmt.Errorf("%w: username is required", store.ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return domain.Staff{}, fmt.Errorf("%w: a valid email is required", store.ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return domain.Staff{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}
	role, err := normalizeRole(req.Role)
	if err != nil {
		return domain.Staff{}, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := a.staff.CreateStaff(ctx, domain.Staff{
		ID:           domain.OwnerID(xid.NewID()),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    a.now(),
	})
	if err != nil {
		return domain.Staff{}, err
	}
	return *created, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.LoginResponse{}, fmt.Errorf("%w: email and password are required", store.ErrInvalidInput)
	}

	staff, err := a.staff.GetStaffByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(staff.PasswordHash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(*staff, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{Token: token, ExpiresAt: expiresAt, User: *staff}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{ID: domain.OwnerID(sub), Username: claims.Username, Role: claims.Role}, nil
}

// Verify resolves a token to the staff account it was issued for. Tokens of
// accounts that no longer exist are rejected.
func (a *AuthManager) Verify(ctx context.Context, tokenStr string) (domain.Staff, error) {
	actor, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.Staff{}, err
	}
	staff, err := a.staff.GetStaffByID(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Staff{}, ErrInvalidToken
	}
	if err != nil {
		return domain.Staff{}, err
	}
	return *staff, nil
}

func (a *AuthManager) sign(staff domain.Staff, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   string(staff.ID),
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Username: staff.Username,
		Role:     staff.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// normalizeRole accepts "owner" as an alias for admin; an empty role
// registers plain staff.
func normalizeRole(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", domain.RoleStaff:
		return domain.RoleStaff, nil
	case domain.RoleAdmin, "owner":
		return domain.RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", store.ErrInvalidInput, raw)
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
