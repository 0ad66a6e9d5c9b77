package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput = errors.New("invalid input: email, display name and password (min 8 chars) are required")
	ErrInvalidToken = errors.New("invalid token")
)

// minPasswordLen is the shortest password Register accepts.
const minPasswordLen = 8

// Service defines the contract for the auth business logic.
type Service interface {
	Register(ctx context.Context, email, displayName, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
}

// Config holds the configuration needed by the auth service.
type Config struct {
	JWTSecret     string
	TokenDuration time.Duration
}

type service struct {
	repo   Repository
	config Config
}

func NewService(repo Repository, config Config) Service {
	return &service{
		repo:   repo,
		config: config,
	}
}

// Register creates a player and returns its ID.
func (s *service) Register(ctx context.Context, email, displayName, password string) (string, error) {
	if email == "" || displayName == "" || len(password) < minPasswordLen {
		return "", ErrInvalidInput
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		return "", err
	}

	playerID, err := s.repo.CreatePlayer(ctx, email, displayName, string(hashedPassword))
	if err != nil {
		// The repository already logged the specific error, so we just return it.
		return "", err
	}

	slog.Info("New player registered successfully", "playerID", playerID)
	return playerID, nil
}

// Login verifies credentials and returns a JWT on success.
func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	player, err := s.repo.GetPlayerByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(player.PasswordHash), []byte(password)); err != nil {
		// Same error as an unknown email to prevent enumeration.
		return "", ErrPlayerNotFound
	}

	return s.generateJWT(player)
}

// Claims defines the payload for our JWT. The lobby agent takes the local
// identity from it.
type Claims struct {
	PlayerID    string `json:"uid"`
	DisplayName string `json:"uname"`
	jwt.RegisteredClaims
}

func (s *service) generateJWT(p *Player) (string, error) {
	now := time.Now()
	claims := &Claims{
		PlayerID:    p.ID,
		DisplayName: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   p.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		slog.Error("Failed to sign JWT", "error", err)
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies an HS256 token signed with secret and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.PlayerID == "" || claims.DisplayName == "" {
		return nil, fmt.Errorf("%w: missing player claims", ErrInvalidToken)
	}
	return claims, nil
}
