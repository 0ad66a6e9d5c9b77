package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// GameKey tags every session this title creates so searches can skip
// unrelated sessions sharing the same provider pool.
const GameKey = "urbanshadows"

// Metadata keys written to the provider. They are part of the wire contract
// between agents of one deployment and must not be renamed.
const (
	KeyGameKey     = "game_key"
	KeyMapName     = "map_name"
	KeySessionID   = "session_id"
	KeySessionName = "session_name"
	KeyHostName    = "host_name"
	KeyRegion      = "region"
	KeyHostAddress = "host_address"
	KeyState       = "state"
)

// MaxMetadataValueLen is the longest metadata value a provider accepts.
const MaxMetadataValueLen = 8192

var (
	ErrAlreadyInitialized = errors.New("provider already initialized")
	ErrNotInitialized     = errors.New("provider not initialized")
	ErrMissingMetadata    = errors.New("session metadata must include game_key and map_name")
	ErrMetadataTooLong    = errors.New("metadata value exceeds provider limit")
	ErrSessionNotFound    = errors.New("session not found")
	ErrMemberNotFound     = errors.New("member not found")
)

// SessionID is the provider-assigned session identifier.
type SessionID uint64

func (id SessionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseSessionID parses the decimal form produced by SessionID.String.
func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionID(v), nil
}

// SessionState decides whether a session is eligible for joining.
type SessionState int

const (
	SessionOpen SessionState = iota
	SessionInProgress
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "Open"
	case SessionInProgress:
		return "InProgress"
	case SessionClosed:
		return "Closed"
	}
	return "Unknown"
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(b []byte) error {
	*s = ParseSessionState(string(b))
	return nil
}

// ParseSessionState parses a metadata state value. Unknown values are treated
// as Open, matching sessions created before the state key existed.
func ParseSessionState(s string) SessionState {
	switch s {
	case "InProgress":
		return SessionInProgress
	case "Closed":
		return SessionClosed
	}
	return SessionOpen
}

// SessionDescriptor identifies a hostable or joinable match.
type SessionDescriptor struct {
	ID          SessionID    `json:"id,string"`
	DisplayName string       `json:"display_name"`
	GameKey     string       `json:"game_key"`
	MapName     string       `json:"map_name"`
	MaxSlots    int          `json:"max_slots"`
	OpenSlots   int          `json:"open_slots"`
	Region      string       `json:"region"`
	State       SessionState `json:"state"`
}

// CurrentPlayers is derived from slot accounting.
func (d SessionDescriptor) CurrentPlayers() int {
	return d.MaxSlots - d.OpenSlots
}

// descriptorFromMetadata fills the metadata-backed fields of a descriptor.
func descriptorFromMetadata(id SessionID, maxSlots, openSlots int, meta map[string]string) SessionDescriptor {
	return SessionDescriptor{
		ID:          id,
		DisplayName: meta[KeySessionName],
		GameKey:     meta[KeyGameKey],
		MapName:     meta[KeyMapName],
		MaxSlots:    maxSlots,
		OpenSlots:   openSlots,
		Region:      meta[KeyRegion],
		State:       ParseSessionState(meta[KeyState]),
	}
}

// Member is one participant of a session.
type Member struct {
	DisplayName  string `json:"display_name"`
	AvatarHandle string `json:"avatar_handle,omitempty"`
	Ready        bool   `json:"ready"`
}

// Identity is the local participant acting through a provider.
type Identity struct {
	UserID       string
	DisplayName  string
	AvatarHandle string
}

// Valid reports whether the identity can act on sessions.
func (i Identity) Valid() bool {
	return i.UserID != "" && i.DisplayName != ""
}

// Member converts the identity into its member descriptor.
func (i Identity) Member() Member {
	return Member{DisplayName: i.DisplayName, AvatarHandle: i.AvatarHandle}
}

// FailureReason categorizes a provider-side join failure.
type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	ReasonSessionFull
	ReasonSessionNotFound
	ReasonAddressUnresolvable
)

func (r FailureReason) String() string {
	switch r {
	case ReasonSessionFull:
		return "SessionFull"
	case ReasonSessionNotFound:
		return "SessionNotFound"
	case ReasonAddressUnresolvable:
		return "AddressUnresolvable"
	}
	return "Unknown"
}

// JoinError is returned by JoinSession and ConnectAddress.
type JoinError struct {
	SessionID SessionID
	Reason    FailureReason
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join session %s: %s", e.SessionID, e.Reason)
}

// ReasonOf extracts the categorized reason from err, or ReasonUnknown.
func ReasonOf(err error) FailureReason {
	var je *JoinError
	if errors.As(err, &je) {
		return je.Reason
	}
	if errors.Is(err, ErrSessionNotFound) {
		return ReasonSessionNotFound
	}
	return ReasonUnknown
}

// Provider is the matchmaking service a lobby talks to.
//
// Calls block until the service answers or ctx ends. Callers that need
// asynchronous completion run them on their own goroutines.
type Provider interface {
	Initialize(ctx context.Context) error
	Initialized() bool
	Shutdown(ctx context.Context) error

	CreateSession(ctx context.Context, maxSlots int, metadata map[string]string) (SessionID, error)
	SearchSessions(ctx context.Context, filter map[string]string, maxResults int) ([]SessionDescriptor, error)
	JoinSession(ctx context.Context, id SessionID) error
	LeaveSession(ctx context.Context, id SessionID, identity Identity) error

	RegisterParticipant(ctx context.Context, id SessionID, identity Identity) error
	ConnectAddress(ctx context.Context, id SessionID) (string, error)

	SetMetadata(ctx context.Context, id SessionID, key, value string) error
	Metadata(ctx context.Context, id SessionID, key string) (string, error)

	MemberCount(ctx context.Context, id SessionID) (int, error)
	MemberAt(ctx context.Context, id SessionID, index int) (Member, error)
	Owner(ctx context.Context, id SessionID) (Member, error)
}

func validateCreate(maxSlots int, metadata map[string]string) error {
	if maxSlots <= 0 {
		return fmt.Errorf("max slots must be positive, got %d", maxSlots)
	}
	if metadata[KeyGameKey] == "" || metadata[KeyMapName] == "" {
		return ErrMissingMetadata
	}
	for k, v := range metadata {
		if len(v) > MaxMetadataValueLen {
			return fmt.Errorf("%w: key %q", ErrMetadataTooLong, k)
		}
	}
	return nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}
