package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ward-backend/models"
	"ward-backend/store/memstore"
)

func newAuth(t *testing.T, domain string) (*AuthService, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return NewAuthService(AuthOptions{
		Store:       st,
		Tokens:      NewTokenIssuer("test-secret", time.Hour),
		EmailDomain: domain,
	}), st
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	raw, err := issuer.Issue(&models.User{ID: 7, Role: models.RoleNurse})
	require.NoError(t, err)

	claims, err := issuer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID())
	assert.Equal(t, models.RoleNurse, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = NewTokenIssuer("other-secret", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenIssuer_DefaultsRoleToDoctor(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	raw, err := issuer.Issue(&models.User{ID: 3})
	require.NoError(t, err)

	claims, err := issuer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDoctor, claims.Role)
}

func TestTokenIssuer_RejectsExpiredAndForeignAlg(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	raw, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}})
	raw, err = hs512.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: models.RoleAdmin})
	raw, err = noSubject.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRegisterAndLogin(t *testing.T) {
	auth, _ := newAuth(t, "")
	ctx := context.Background()

	u, err := auth.Register(ctx, admin, RegisterRequest{Name: "Dr. Salem", Email: " Salem@Ward.test ", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "salem@ward.test", u.Email)
	assert.Equal(t, models.RoleDoctor, u.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("s3cret")))

	token, got, err := auth.Login(ctx, "salem@ward.test", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, u.ID, got.ID)

	_, _, err = auth.Login(ctx, "salem@ward.test", "wrong")
	assert.Equal(t, KindUnauthorized, KindOf(err))
	_, _, err = auth.Login(ctx, "nobody@ward.test", "s3cret")
	assert.Equal(t, KindUnauthorized, KindOf(err))
	_, _, err = auth.Login(ctx, "", "")
	assert.Equal(t, KindMissingFields, KindOf(err))
}

func TestRegister_Rejections(t *testing.T) {
	auth, _ := newAuth(t, "@ward.test")
	ctx := context.Background()

	_, err := auth.Register(ctx, doctor, RegisterRequest{Email: "a@ward.test", Password: "x"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = auth.Register(ctx, admin, RegisterRequest{Email: "a@gmail.com", Password: "x"})
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = auth.Register(ctx, admin, RegisterRequest{Email: "a@ward.test", Password: "x", Role: "janitor"})
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = auth.Register(ctx, admin, RegisterRequest{Email: "a@ward.test"})
	assert.Equal(t, KindMissingFields, KindOf(err))

	_, err = auth.Register(ctx, admin, RegisterRequest{Email: "a@ward.test", Password: "x", Role: "Nurse"})
	require.NoError(t, err)
	_, err = auth.Register(ctx, admin, RegisterRequest{Email: "A@ward.test", Password: "y"})
	assert.Equal(t, KindDuplicateUser, KindOf(err))
}

func TestEnsureAdmin(t *testing.T) {
	auth, st := newAuth(t, "")
	ctx := context.Background()

	require.NoError(t, auth.EnsureAdmin(ctx, "", ""))
	n, err := st.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, auth.EnsureAdmin(ctx, "root@ward.test", "pw"))
	u, err := st.FindUserByEmail(ctx, "root@ward.test")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)

	// A populated users table is left alone.
	require.NoError(t, auth.EnsureAdmin(ctx, "second@ward.test", "pw"))
	n, err = st.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
