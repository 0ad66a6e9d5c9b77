package playerprofile

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/lib/pq"
)

var (
	ErrProfileNotFound         = errors.New("profile not found")
	ErrDisplayNameNotAvailable = errors.New("display name is not available")
	ErrPlayerDoesNotExist      = errors.New("player does not exist")
)

// Stats are the lifetime match results of a player.
type Stats struct {
	Kills   int32 `json:"kills"`
	Deaths  int32 `json:"deaths"`
	Assists int32 `json:"assists"`
	Wins    int32 `json:"wins"`
	Losses  int32 `json:"losses"`
}

// Profile is what other players see of a player in a lobby.
type Profile struct {
	PlayerID     string `json:"player_id"`
	DisplayName  string `json:"display_name"`
	AvatarHandle string `json:"avatar_handle,omitempty"`
	Level        int32  `json:"level"`
	Stats        Stats  `json:"stats"`
}

// Avatar is a stored avatar image in raw RGBA form.
type Avatar struct {
	Handle string
	Width  int
	Height int
	Pixels []byte
}

// Repository defines the database operations for player profiles.
type Repository interface {
	CreateProfile(ctx context.Context, playerID, displayName string) (*Profile, error)
	GetProfile(ctx context.Context, playerID string) (*Profile, error)
	// SaveAvatar stores a and points the player's profile at it.
	SaveAvatar(ctx context.Context, playerID string, a Avatar) error
	GetAvatar(ctx context.Context, handle string) (*Avatar, error)
}

type postgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

const profileColumns = `player_id, display_name, COALESCE(avatar_handle, ''), level,
	stats_kills, stats_deaths, stats_assists, stats_wins, stats_losses`

func scanProfile(row *sql.Row) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(
		&p.PlayerID, &p.DisplayName, &p.AvatarHandle, &p.Level,
		&p.Stats.Kills, &p.Stats.Deaths, &p.Stats.Assists, &p.Stats.Wins, &p.Stats.Losses,
	)
	return p, err
}

// CreateProfile inserts a new player profile into the database.
func (r *postgresRepository) CreateProfile(ctx context.Context, playerID, displayName string) (*Profile, error) {
	query := `
		INSERT INTO profiles (player_id, display_name)
		VALUES ($1, $2)
		RETURNING ` + profileColumns + `;`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, playerID, displayName))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, ErrDisplayNameNotAvailable
			case "foreign_key_violation":
				return nil, ErrPlayerDoesNotExist
			}
		}
		slog.Error("Failed to create profile in database", "error", err)
		return nil, err
	}
	return p, nil
}

// GetProfile retrieves a player profile from the database by player ID.
func (r *postgresRepository) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE player_id = $1;`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, playerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		slog.Error("Failed to get profile from database", "error", err)
		return nil, err
	}
	return p, nil
}

func (r *postgresRepository) SaveAvatar(ctx context.Context, playerID string, a Avatar) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("Failed to begin avatar transaction", "error", err)
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO avatars (handle, width, height, pixels)
		VALUES ($1, $2, $3, $4);`,
		a.Handle, a.Width, a.Height, a.Pixels)
	if err != nil {
		slog.Error("Failed to store avatar", "handle", a.Handle, "error", err)
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE profiles SET avatar_handle = $2 WHERE player_id = $1;`, playerID, a.Handle)
	if err != nil {
		slog.Error("Failed to update avatar handle", "playerID", playerID, "error", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProfileNotFound
	}
	return tx.Commit()
}

func (r *postgresRepository) GetAvatar(ctx context.Context, handle string) (*Avatar, error) {
	a := &Avatar{Handle: handle}
	err := r.db.QueryRowContext(ctx,
		`SELECT width, height, pixels FROM avatars WHERE handle = $1;`, handle,
	).Scan(&a.Width, &a.Height, &a.Pixels)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAvatarNotFound
		}
		slog.Error("Failed to get avatar from database", "handle", handle, "error", err)
		return nil, err
	}
	return a, nil
}
