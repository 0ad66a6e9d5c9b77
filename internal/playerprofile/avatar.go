package playerprofile

import (
	"context"
	"fmt"

	"github.com/cheildo/urbanshadows-lobby/internal/lobby"
)

// ErrAvatarNotFound matches lobby.ErrNotFound.
var ErrAvatarNotFound = fmt.Errorf("avatar %w", lobby.ErrNotFound)

// AvatarStore resolves avatar handles against the profile database.
type AvatarStore struct {
	repo Repository
}

func NewAvatarStore(repo Repository) *AvatarStore {
	return &AvatarStore{repo: repo}
}

func (s *AvatarStore) ResolveAvatar(ctx context.Context, handle string) (lobby.Image, error) {
	if handle == "" {
		return lobby.Image{}, ErrAvatarNotFound
	}
	a, err := s.repo.GetAvatar(ctx, handle)
	if err != nil {
		return lobby.Image{}, err
	}
	return lobby.Image{Width: a.Width, Height: a.Height, Pixels: a.Pixels}, nil
}
