package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ward-backend/models"
	"ward-backend/store"
)

var ErrTokenInvalid = errors.New("invalid or expired token")

// Claims carries the user id in Subject and the staff role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// UserID parses Subject. A malformed subject yields zero.
func (c *Claims) UserID() uint {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *TokenIssuer) Issue(u *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
		Role: u.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// Parse validates a token. A token without a role is treated as doctor.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID() == 0 {
		return nil, ErrTokenInvalid
	}
	if claims.Role == "" {
		claims.Role = models.RoleDoctor
	}
	return claims, nil
}

// AuthService handles staff login and registration.
type AuthService struct {
	store  store.Reader
	tokens *TokenIssuer
	policy Policy
	domain string
	log    *zap.Logger
}

type AuthOptions struct {
	Store  store.Reader
	Tokens *TokenIssuer
	Policy Policy
	// EmailDomain, when set, restricts registration to addresses ending in it.
	EmailDomain string
	Logger      *zap.Logger
}

func NewAuthService(opts AuthOptions) *AuthService {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy := opts.Policy
	if policy.rules == nil {
		policy = DefaultPolicy()
	}
	return &AuthService{
		store:  opts.Store,
		tokens: opts.Tokens,
		policy: policy,
		domain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.EmailDomain), "@")),
		log:    log,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login returns a signed token and the user on valid credentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, newError(KindMissingFields, opLogin, "email and password are required", nil)
	}
	u, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, newError(KindUnauthorized, opLogin, "invalid credentials", nil)
	}
	if err != nil {
		return "", nil, classify(opLogin, err, KindUnauthorized, KindInternal)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return "", nil, newError(KindUnauthorized, opLogin, "invalid credentials", nil)
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return "", nil, newError(KindInternal, opLogin, "failed to issue token", err)
	}
	return token, u, nil
}

type RegisterRequest struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Register creates a staff account on behalf of an authorized caller.
func (s *AuthService) Register(ctx context.Context, caller Caller, req RegisterRequest) (*models.User, error) {
	if err := s.policy.Authorize(OpRegister, caller.Role); err != nil {
		return nil, err
	}
	return s.create(ctx, req)
}

func (s *AuthService) create(ctx context.Context, req RegisterRequest) (*models.User, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, newError(KindMissingFields, OpRegister, "email and password are required", nil)
	}
	if s.domain != "" && !strings.HasSuffix(email, "@"+s.domain) {
		return nil, newError(KindInvalidInput, OpRegister, "email domain is not allowed", nil)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "":
		role = models.RoleDoctor
	case models.RoleAdmin, models.RoleDoctor, models.RoleNurse:
	default:
		return nil, newError(KindInvalidInput, OpRegister, "unknown role", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, newError(KindInternal, OpRegister, "failed to hash password", err)
	}
	u := &models.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    email,
		Password: string(hash),
		Role:     role,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, classify(OpRegister, err, KindNotFound, KindDuplicateUser)
	}
	s.log.Info("user registered", zap.Uint("user_id", u.ID), zap.String("role", u.Role))
	return u, nil
}

// EnsureAdmin creates the first admin account when the users table is empty.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err = s.create(ctx, RegisterRequest{Name: "Administrator", Email: email, Password: password, Role: models.RoleAdmin})
	if err != nil && !errors.Is(err, &Error{Kind: KindDuplicateUser}) {
		return err
	}
	return nil
}
