package playerprofile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput  = errors.New("player_id and display_name are required")
	ErrInvalidAvatar = errors.New("avatar must be a PNG image")
)

// MaxAvatarSide bounds both avatar dimensions in pixels.
const MaxAvatarSide = 256

// Service defines the business logic for player profiles.
type Service interface {
	CreateProfile(ctx context.Context, playerID, displayName string) (*Profile, error)
	GetProfile(ctx context.Context, playerID string) (*Profile, error)
	// UploadAvatar decodes a PNG, stores it and returns the new avatar handle.
	UploadAvatar(ctx context.Context, playerID string, pngData []byte) (string, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateProfile(ctx context.Context, playerID, displayName string) (*Profile, error) {
	if playerID == "" || displayName == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.CreateProfile(ctx, playerID, displayName)
}

func (s *service) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	if playerID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.GetProfile(ctx, playerID)
}

func (s *service) UploadAvatar(ctx context.Context, playerID string, pngData []byte) (string, error) {
	// The header is checked first; a tiny compressed body can declare a huge
	// image.
	cfg, err := png.DecodeConfig(bytes.NewReader(pngData))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAvatar, err)
	}
	if cfg.Width > MaxAvatarSide || cfg.Height > MaxAvatarSide {
		return "", fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrInvalidAvatar, cfg.Width, cfg.Height, MaxAvatarSide, MaxAvatarSide)
	}
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAvatar, err)
	}
	b := img.Bounds()

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)

	a := Avatar{
		Handle: uuid.NewString(),
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: rgba.Pix,
	}
	if err := s.repo.SaveAvatar(ctx, playerID, a); err != nil {
		return "", err
	}
	return a.Handle, nil
}
