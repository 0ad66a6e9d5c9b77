package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type memorySession struct {
	maxSlots  int
	openSlots int
	meta      map[string]string
	roster    []string
	members   map[string]Member
	created   time.Time
}

// MemoryProvider keeps a session pool inside the process. Several lobby
// machines may share one instance to play against each other locally.
type MemoryProvider struct {
	mu          sync.Mutex
	initialized bool
	nextID      SessionID
	sessions    map[SessionID]*memorySession
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		nextID:   1,
		sessions: make(map[SessionID]*memorySession),
	}
}

func (p *MemoryProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.initialized = true
	slog.Info("In-memory matchmaking provider initialized")
	return nil
}

func (p *MemoryProvider) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *MemoryProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	return nil
}

func (p *MemoryProvider) session(id SessionID) (*memorySession, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	s, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (p *MemoryProvider) CreateSession(ctx context.Context, maxSlots int, metadata map[string]string) (SessionID, error) {
	if err := validateCreate(maxSlots, metadata); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return 0, ErrNotInitialized
	}

	id := p.nextID
	p.nextID++
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[KeySessionID] = id.String()
	if meta[KeyState] == "" {
		meta[KeyState] = SessionOpen.String()
	}
	// The creator occupies one slot.
	p.sessions[id] = &memorySession{
		maxSlots:  maxSlots,
		openSlots: maxSlots - 1,
		meta:      meta,
		members:   make(map[string]Member),
		created:   time.Now(),
	}
	return id, nil
}

func (p *MemoryProvider) SearchSessions(ctx context.Context, filter map[string]string, maxResults int) ([]SessionDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil, ErrNotInitialized
	}

	ids := make([]SessionID, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	// Newest first, ids break ties.
	sort.Slice(ids, func(i, j int) bool {
		a, b := p.sessions[ids[i]], p.sessions[ids[j]]
		if !a.created.Equal(b.created) {
			return a.created.After(b.created)
		}
		return ids[i] > ids[j]
	})

	var out []SessionDescriptor
	for _, id := range ids {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		s := p.sessions[id]
		if !matchesFilter(s.meta, filter) {
			continue
		}
		out = append(out, descriptorFromMetadata(id, s.maxSlots, s.openSlots, s.meta))
	}
	return out, nil
}

func (p *MemoryProvider) JoinSession(ctx context.Context, id SessionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return ErrNotInitialized
	}
	s, ok := p.sessions[id]
	if !ok || ParseSessionState(s.meta[KeyState]) == SessionClosed {
		return &JoinError{SessionID: id, Reason: ReasonSessionNotFound}
	}
	if s.openSlots <= 0 {
		return &JoinError{SessionID: id, Reason: ReasonSessionFull}
	}
	s.openSlots--
	return nil
}

func (p *MemoryProvider) LeaveSession(ctx context.Context, id SessionID, identity Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return err
	}
	if _, ok := s.members[identity.DisplayName]; ok {
		delete(s.members, identity.DisplayName)
		for i, name := range s.roster {
			if name == identity.DisplayName {
				s.roster = append(s.roster[:i], s.roster[i+1:]...)
				break
			}
		}
	}
	if s.openSlots < s.maxSlots {
		s.openSlots++
	}
	if identity.DisplayName == s.meta[KeyHostName] {
		s.meta[KeyState] = SessionClosed.String()
	}
	return nil
}

func (p *MemoryProvider) RegisterParticipant(ctx context.Context, id SessionID, identity Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return err
	}
	if _, ok := s.members[identity.DisplayName]; !ok {
		s.roster = append(s.roster, identity.DisplayName)
	}
	s.members[identity.DisplayName] = identity.Member()
	return nil
}

func (p *MemoryProvider) ConnectAddress(ctx context.Context, id SessionID) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return "", err
	}
	addr := s.meta[KeyHostAddress]
	if addr == "" {
		return "", &JoinError{SessionID: id, Reason: ReasonAddressUnresolvable}
	}
	return addr, nil
}

func (p *MemoryProvider) SetMetadata(ctx context.Context, id SessionID, key, value string) error {
	if len(value) > MaxMetadataValueLen {
		return fmt.Errorf("%w: key %q", ErrMetadataTooLong, key)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return err
	}
	s.meta[key] = value
	return nil
}

func (p *MemoryProvider) Metadata(ctx context.Context, id SessionID, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return "", err
	}
	return s.meta[key], nil
}

func (p *MemoryProvider) MemberCount(ctx context.Context, id SessionID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return 0, err
	}
	return len(s.roster), nil
}

func (p *MemoryProvider) MemberAt(ctx context.Context, id SessionID, index int) (Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return Member{}, err
	}
	if index < 0 || index >= len(s.roster) {
		return Member{}, fmt.Errorf("%w: index %d of %d", ErrMemberNotFound, index, len(s.roster))
	}
	return s.members[s.roster[index]], nil
}

func (p *MemoryProvider) Owner(ctx context.Context, id SessionID) (Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.session(id)
	if err != nil {
		return Member{}, err
	}
	m, ok := s.members[s.meta[KeyHostName]]
	if !ok {
		return Member{}, fmt.Errorf("%w: owner of %s", ErrMemberNotFound, id)
	}
	return m, nil
}
