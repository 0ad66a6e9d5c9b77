package playerprofile

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheildo/urbanshadows-lobby/internal/lobby"
)

type memoryRepo struct {
	mu       sync.Mutex
	profiles map[string]*Profile
	avatars  map[string]Avatar
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{profiles: make(map[string]*Profile), avatars: make(map[string]Avatar)}
}

func (r *memoryRepo) CreateProfile(_ context.Context, playerID, displayName string) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.DisplayName == displayName {
			return nil, ErrDisplayNameNotAvailable
		}
	}
	p := &Profile{PlayerID: playerID, DisplayName: displayName, Level: 1}
	r.profiles[playerID] = p
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) GetProfile(_ context.Context, playerID string) (*Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[playerID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) SaveAvatar(_ context.Context, playerID string, a Avatar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[playerID]
	if !ok {
		return ErrProfileNotFound
	}
	p.AvatarHandle = a.Handle
	r.avatars[a.Handle] = a
	return nil
}

func (r *memoryRepo) GetAvatar(_ context.Context, handle string) (*Avatar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.avatars[handle]
	if !ok {
		return nil, ErrAvatarNotFound
	}
	return &a, nil
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestService_Profiles(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateProfile(ctx, "", "alice")
	assert.ErrorIs(t, err, ErrInvalidInput)

	p, err := svc.CreateProfile(ctx, "p-alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.DisplayName)

	_, err = svc.CreateProfile(ctx, "p-other", "alice")
	assert.ErrorIs(t, err, ErrDisplayNameNotAvailable)

	_, err = svc.GetProfile(ctx, "p-nobody")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestService_UploadAvatarResolves(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	_, err := svc.CreateProfile(ctx, "p-alice", "alice")
	require.NoError(t, err)

	handle, err := svc.UploadAvatar(ctx, "p-alice", encodePNG(t, 3, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	require.NoError(t, err)

	p, err := svc.GetProfile(ctx, "p-alice")
	require.NoError(t, err)
	assert.Equal(t, handle, p.AvatarHandle)

	img, err := NewAvatarStore(repo).ResolveAvatar(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)
	require.Len(t, img.Pixels, 3*2*4)
	assert.Equal(t, []byte{10, 20, 30, 255}, img.Pixels[:4])
}

func TestService_UploadAvatarRejects(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	_, err := svc.CreateProfile(ctx, "p-alice", "alice")
	require.NoError(t, err)

	_, err = svc.UploadAvatar(ctx, "p-alice", []byte("GIF89a"))
	assert.ErrorIs(t, err, ErrInvalidAvatar)

	_, err = svc.UploadAvatar(ctx, "p-alice", encodePNG(t, MaxAvatarSide+1, 1, color.Black))
	assert.ErrorIs(t, err, ErrInvalidAvatar)

	_, err = svc.UploadAvatar(ctx, "p-nobody", encodePNG(t, 1, 1, color.Black))
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

// withDimensions rewrites the IHDR of a PNG to declare w x h.
func withDimensions(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := append([]byte(nil), data...)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestService_UploadAvatarRejectsHugeHeaderBeforeDecoding(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	_, err := svc.CreateProfile(ctx, "p-alice", "alice")
	require.NoError(t, err)

	huge := withDimensions(t, encodePNG(t, 1, 1, color.Black), 12000, 12000)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err = svc.UploadAvatar(ctx, "p-alice", huge)
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrInvalidAvatar)
	assert.Contains(t, err.Error(), "12000x12000 exceeds")
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20))

	p, err := svc.GetProfile(ctx, "p-alice")
	require.NoError(t, err)
	assert.Empty(t, p.AvatarHandle)
}

func TestAvatarStore_MissingIsLobbyNotFound(t *testing.T) {
	store := NewAvatarStore(newMemoryRepo())
	for _, handle := range []string{"", "missing"} {
		_, err := store.ResolveAvatar(context.Background(), handle)
		assert.ErrorIs(t, err, lobby.ErrNotFound)
	}
}

func TestHTTPHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHTTPHandler(NewService(newMemoryRepo())).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	do := func(method, path, body string) int {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/v1/profiles/", `{"player_id":"p-a"}`))
	assert.Equal(t, http.StatusCreated, do(http.MethodPost, "/api/v1/profiles/", `{"player_id":"p-a","display_name":"a"}`))
	assert.Equal(t, http.StatusConflict, do(http.MethodPost, "/api/v1/profiles/", `{"player_id":"p-b","display_name":"a"}`))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/profiles/p-a", ``))
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/v1/profiles/p-z", ``))
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, "/api/v1/profiles/p-a/avatar", `not a png`))
	assert.Equal(t, http.StatusOK, do(http.MethodPut, "/api/v1/profiles/p-a/avatar", string(encodePNG(t, 2, 2, color.White))))
}
