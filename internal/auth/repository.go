package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq" // Used for handling specific PostgreSQL errors
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrPlayerExists   = errors.New("email or display name already taken")
)

// Player is an account that can sign in to a lobby agent. DisplayName is the
// name the player is listed under in lobbies, so it is unique.
type Player struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
}

// Repository defines the contract for database operations for the auth service.
type Repository interface {
	CreatePlayer(ctx context.Context, email, displayName, hashedPassword string) (string, error)
	GetPlayerByEmail(ctx context.Context, email string) (*Player, error)
}

type postgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreatePlayer(ctx context.Context, email, displayName, hashedPassword string) (string, error) {
	query := `
		INSERT INTO players (email, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id;`

	var playerID string
	err := r.db.QueryRowContext(ctx, query, email, displayName, hashedPassword).Scan(&playerID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			slog.Warn("Attempted to create player with duplicate email or display name", "email", email, "displayName", displayName)
			return "", ErrPlayerExists
		}
		slog.Error("Failed to create player in database", "error", err)
		return "", err
	}

	return playerID, nil
}

func (r *postgresRepository) GetPlayerByEmail(ctx context.Context, email string) (*Player, error) {
	query := `
		SELECT id, email, display_name, password_hash
		FROM players
		WHERE email = $1;`

	var p Player
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&p.ID,
		&p.Email,
		&p.DisplayName,
		&p.PasswordHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		slog.Error("Failed to get player by email from database", "error", err)
		return nil, err
	}

	return &p, nil
}
