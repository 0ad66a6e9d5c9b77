package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu      sync.Mutex
	players map[string]*Player
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{players: make(map[string]*Player)}
}

func (r *memoryRepo) CreatePlayer(_ context.Context, email, displayName, hash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.players {
		if p.Email == email || p.DisplayName == displayName {
			return "", ErrPlayerExists
		}
	}
	id := "p-" + displayName
	r.players[email] = &Player{ID: id, Email: email, DisplayName: displayName, PasswordHash: hash}
	return id, nil
}

func (r *memoryRepo) GetPlayerByEmail(_ context.Context, email string) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[email]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

const secret = "test-secret"

func newTestService() Service {
	return NewService(newMemoryRepo(), Config{JWTSecret: secret, TokenDuration: time.Hour})
}

func TestService_RegisterLoginParse(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	id, err := svc.Register(ctx, "alice@example.com", "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "p-alice", id)

	token, err := svc.Login(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "p-alice", claims.PlayerID)
	assert.Equal(t, "alice", claims.DisplayName)
	assert.Equal(t, "p-alice", claims.Subject)

	_, err = ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "alice", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Register(ctx, "alice@example.com", "alice", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Register(ctx, "alice@example.com", "alice", "correct horse")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "other@example.com", "alice", "correct horse")
	assert.ErrorIs(t, err, ErrPlayerExists)
}

func TestService_LoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, err := svc.Register(ctx, "alice@example.com", "alice", "correct horse")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestParseToken_Rejects(t *testing.T) {
	sign := func(c *Claims, method jwt.SigningMethod) string {
		s, err := jwt.NewWithClaims(method, c).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	expired := &Claims{PlayerID: "p", DisplayName: "n", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	noExpiry := &Claims{PlayerID: "p", DisplayName: "n"}
	noName := &Claims{PlayerID: "p", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	wrongAlg := &Claims{PlayerID: "p", DisplayName: "n", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}

	for name, token := range map[string]string{
		"expired":   sign(expired, jwt.SigningMethodHS256),
		"no expiry": sign(noExpiry, jwt.SigningMethodHS256),
		"no name":   sign(noName, jwt.SigningMethodHS256),
		"HS512":     sign(wrongAlg, jwt.SigningMethodHS512),
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(secret, token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestHTTPHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHTTPHandler(newTestService()).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	post := func(path, body string) int {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, post("/api/v1/auth/register", `{`))
	assert.Equal(t, http.StatusBadRequest, post("/api/v1/auth/register", `{"email":"a@b.c","display_name":"a","password":"x"}`))
	assert.Equal(t, http.StatusCreated, post("/api/v1/auth/register", `{"email":"a@b.c","display_name":"a","password":"password1"}`))
	assert.Equal(t, http.StatusConflict, post("/api/v1/auth/register", `{"email":"a@b.c","display_name":"a","password":"password1"}`))
	assert.Equal(t, http.StatusOK, post("/api/v1/auth/login", `{"email":"a@b.c","password":"password1"}`))
	assert.Equal(t, http.StatusUnauthorized, post("/api/v1/auth/login", `{"email":"a@b.c","password":"password2"}`))
}
