package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

// State is a step of the lobby negotiation.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateHosted
	StateSearching
	StateJoining
	StateJoined
	StateReadyCheck
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCreating:
		return "Creating"
	case StateHosted:
		return "Hosted"
	case StateSearching:
		return "Searching"
	case StateJoining:
		return "Joining"
	case StateJoined:
		return "Joined"
	case StateReadyCheck:
		return "ReadyCheck"
	case StateStarted:
		return "Started"
	}
	return "Unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// inLobby reports whether the local participant sits in a session that has
// not started yet.
func (s State) inLobby() bool {
	return s == StateHosted || s == StateJoined || s == StateReadyCheck
}

// Config tunes a Machine.
type Config struct {
	// GameKey is forced into every created session and every search filter.
	GameKey string
	// Region is advertised in session metadata.
	Region string
	// HostAddress is the address clients connect to when this process hosts.
	HostAddress string
	// OperationTimeout bounds each provider step.
	OperationTimeout time.Duration
	// DefaultMaxResults caps searches that do not pass a limit.
	DefaultMaxResults int
}

const (
	defaultOperationTimeout = 30 * time.Second
	defaultMaxResults       = 50
)

// Machine drives the host/search/join/ready lifecycle. A single loop
// goroutine, started by Start, owns the Registry; provider calls run on their
// own goroutines and post their completion back into the loop in arrival
// order.
type Machine struct {
	provider matchmaking.Provider
	travel   Traveler
	identity matchmaking.Identity
	cfg      Config

	// mu guards sends on ops against the drain at shutdown.
	mu       sync.RWMutex
	ops      chan op
	stopping chan struct{}
	done     chan struct{}

	// Owned by the loop goroutine.
	state     State
	registry  *Registry
	observers []Observer
	searches  int
}

func NewMachine(provider matchmaking.Provider, travel Traveler, identity matchmaking.Identity, cfg Config) *Machine {
	if cfg.GameKey == "" {
		cfg.GameKey = matchmaking.GameKey
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = defaultMaxResults
	}
	return &Machine{
		provider: provider,
		travel:   travel,
		identity: identity,
		cfg:      cfg,
		ops:      make(chan op, 64),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		registry: NewRegistry(),
	}
}

// op is a unit of loop work. abort, when set, runs instead of run for work
// still queued when the loop stops.
type op struct {
	run   func()
	abort func()
}

// Start runs the event loop in a separate goroutine until ctx is done.
func (m *Machine) Start(ctx context.Context) {
	slog.Info("Lobby machine loop started", "player", m.identity.DisplayName, "timeout", m.cfg.OperationTimeout)
	go func() {
		defer close(m.done)
		for ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case o := <-m.ops:
				// Work picked up after cancellation is aborted, not run.
				if ctx.Err() == nil {
					o.run()
				} else if o.abort != nil {
					o.abort()
				}
			}
		}
		slog.Info("Lobby machine loop stopping.")
		m.drain()
	}()
}

// drain refuses new work and aborts whatever is still queued.
func (m *Machine) drain() {
	close(m.stopping)
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		select {
		case o := <-m.ops:
			if o.abort != nil {
				o.abort()
			}
		default:
			return
		}
	}
}

// Done is closed once the loop has exited.
func (m *Machine) Done() <-chan struct{} { return m.done }

func (m *Machine) post(run, abort func()) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	select {
	case <-m.stopping:
		return ErrStopped
	default:
	}
	select {
	case m.ops <- op{run: run, abort: abort}:
		return nil
	case <-m.stopping:
		return ErrStopped
	}
}

// call runs fn on the loop and waits for it.
func (m *Machine) call(fn func()) error {
	finished := make(chan struct{})
	if err := m.post(func() { fn(); close(finished) }, nil); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// submit schedules fn on the loop and hands back its result channel, which
// always receives exactly one value.
func (m *Machine) submit(fn func(res chan<- error)) <-chan error {
	res := make(chan error, 1)
	stopped := func() { res <- ErrStopped }
	if err := m.post(func() { fn(res) }, stopped); err != nil {
		stopped()
	}
	return res
}

type outcome[T any] struct {
	val T
	err error
}

// dispatch runs call off the loop under the operation timeout and feeds its
// result to done on the loop. A call that outlives the timeout completes with
// ErrTimeout. If it later succeeds anyway, undo runs on its value so the
// provider does not keep what the machine has given up. res receives
// ErrStopped when the loop is gone before done can run.
func dispatch[T any](m *Machine, ctx context.Context, name string, res chan<- error,
	call func(context.Context) (T, error), done func(T, error), undo func(context.Context, T)) {
	go func() {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
		defer cancel()

		ch := make(chan outcome[T], 1)
		go func() {
			v, err := call(cctx)
			ch <- outcome[T]{val: v, err: err}
		}()

		var o outcome[T]
		select {
		case o = <-ch:
		case <-cctx.Done():
			o.err = cctx.Err()
			if undo != nil {
				go undoLate(m, ctx, name, ch, undo)
			}
		}
		if errors.Is(o.err, context.DeadlineExceeded) {
			o.err = fmt.Errorf("%s after %s: %w", name, m.cfg.OperationTimeout, ErrTimeout)
		}
		stopped := func() { res <- ErrStopped }
		if err := m.post(func() { done(o.val, o.err) }, stopped); err != nil {
			slog.Warn("Dropping completion after loop stopped", "op", name, "error", err)
			stopped()
		}
	}()
}

// undoLate waits for a call abandoned on timeout and reverts it if it
// succeeded after all.
func undoLate[T any](m *Machine, ctx context.Context, name string, ch <-chan outcome[T], undo func(context.Context, T)) {
	o := <-ch
	if o.err != nil {
		return
	}
	slog.Warn("Reverting provider step that completed after its timeout", "op", name)
	uctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()
	undo(uctx, o.val)
}

// background runs a best-effort side effect off the loop.
func (m *Machine) background(ctx context.Context, fn func(context.Context)) {
	go func() {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
		defer cancel()
		fn(cctx)
	}()
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, matchmaking.ErrNotInitialized):
		return fmt.Errorf("%s: %w", op, ErrProviderUnavailable)
	}
	return rejected(op, err)
}

func (m *Machine) setState(s State) {
	if m.state != s {
		slog.Debug("Lobby state transition", "from", m.state, "to", s)
	}
	m.state = s
}

func (m *Machine) snapshot() Update {
	u := Update{
		State:   m.state,
		Role:    m.registry.Role(),
		Members: m.registry.Members(),
	}
	if own, ok := m.registry.OwnSession(); ok {
		u.Session = &own
	}
	return u
}

func (m *Machine) notify(err error) {
	u := m.snapshot()
	if err != nil {
		u.Error = err.Error()
	}
	for _, o := range m.observers {
		o.LobbyUpdated(u)
	}
}

// fail logs a failed async step, drops any partial state and reports err.
func (m *Machine) fail(op string, err error, res chan<- error, args ...any) {
	slog.Error("Lobby operation failed", append([]any{"op", op, "state", m.state, "error", err}, args...)...)
	m.registry.Reset()
	m.setState(StateIdle)
	m.notify(err)
	res <- err
}

// refuse reports a precondition failure without touching state.
func (m *Machine) refuse(op string, err error, res chan<- error) {
	slog.Warn("Lobby operation refused", "op", op, "state", m.state, "error", err)
	res <- err
}

func (m *Machine) checkActor(op string) error {
	if !m.provider.Initialized() {
		return fmt.Errorf("%s: %w", op, ErrProviderUnavailable)
	}
	if !m.identity.Valid() {
		return fmt.Errorf("%w: %s requires a local identity", ErrInvalidLocalState, op)
	}
	return nil
}

// Subscribe registers o for lobby updates.
func (m *Machine) Subscribe(o Observer) error {
	return m.call(func() { m.observers = append(m.observers, o) })
}

// Host creates a session advertising mapName and travels into it as the
// listening host once the provider confirms.
func (m *Machine) Host(ctx context.Context, maxSlots int, mapName string) <-chan error {
	ctx = context.WithoutCancel(ctx)
	return m.submit(func(res chan<- error) {
		const op = "host"
		if m.state != StateIdle {
			m.refuse(op, invalidState(op, m.state), res)
			return
		}
		if maxSlots <= 0 {
			m.refuse(op, fmt.Errorf("%s: max slots must be positive, got %d", op, maxSlots), res)
			return
		}
		if err := m.checkActor(op); err != nil {
			m.refuse(op, err, res)
			return
		}

		meta := map[string]string{
			matchmaking.KeyGameKey:     m.cfg.GameKey,
			matchmaking.KeyMapName:     mapName,
			matchmaking.KeySessionName: m.identity.DisplayName + "'s lobby",
			matchmaking.KeyHostName:    m.identity.DisplayName,
			matchmaking.KeyRegion:      m.cfg.Region,
			matchmaking.KeyHostAddress: m.cfg.HostAddress,
			matchmaking.KeyState:       matchmaking.SessionOpen.String(),
		}
		m.setState(StateCreating)
		slog.Info("Creating session", "maxSlots", maxSlots, "map", mapName)

		dispatch(m, ctx, op, res,
			func(ctx context.Context) (matchmaking.SessionID, error) {
				return m.provider.CreateSession(ctx, maxSlots, meta)
			},
			func(id matchmaking.SessionID, err error) {
				if err != nil {
					m.fail(op, classify(op, err), res, "map", mapName)
					return
				}
				m.onHosted(ctx, matchmaking.SessionDescriptor{
					ID:          id,
					DisplayName: meta[matchmaking.KeySessionName],
					GameKey:     m.cfg.GameKey,
					MapName:     mapName,
					MaxSlots:    maxSlots,
					OpenSlots:   maxSlots - 1,
					Region:      m.cfg.Region,
					State:       matchmaking.SessionOpen,
				}, res)
			},
			func(ctx context.Context, id matchmaking.SessionID) {
				// Leaving as the host closes the orphan.
				if err := m.provider.LeaveSession(ctx, id, m.identity); err != nil {
					slog.Warn("Failed to close session created after timeout", "sessionID", id, "error", err)
				}
			})
	})
}

func (m *Machine) onHosted(ctx context.Context, session matchmaking.SessionDescriptor, res chan<- error) {
	m.registry.Reset()
	m.registry.RecordOwnSession(session)
	m.registry.SetRole(RoleHost)
	m.registry.RecordMember(m.identity.Member())
	m.setState(StateHosted)
	slog.Info("Session hosted", "sessionID", session.ID, "map", session.MapName)
	m.notify(nil)
	res <- nil

	// The host travels at creation time rather than waiting for the ready
	// check; clients find it once it is marked in progress.
	m.background(ctx, func(ctx context.Context) {
		if err := m.provider.RegisterParticipant(ctx, session.ID, m.identity); err != nil {
			slog.Warn("Failed to register host with provider", "sessionID", session.ID, "error", err)
		}
		if err := m.travel.TravelAsHost(ctx, session); err != nil {
			slog.Error("Host travel failed", "sessionID", session.ID, "map", session.MapName, "error", err)
			return
		}
		// Leave or StartGame may have run while we travelled.
		if !m.hostsOpen(session.ID) {
			return
		}
		if err := m.provider.SetMetadata(ctx, session.ID, matchmaking.KeyState, matchmaking.SessionInProgress.String()); err != nil {
			slog.Warn("Failed to mark session in progress", "sessionID", session.ID, "error", err)
			return
		}
		var reclose bool
		if err := m.call(func() { reclose = !m.markOwnState(session.ID, matchmaking.SessionInProgress) }); err != nil {
			reclose = true
		}
		// A start or leave that ran during the write above may have had its
		// Closed overwritten. Anything queued after the call sees our write
		// already done, so closing again here is final.
		if reclose {
			if err := m.provider.SetMetadata(ctx, session.ID, matchmaking.KeyState, matchmaking.SessionClosed.String()); err != nil {
				slog.Warn("Failed to re-close session", "sessionID", session.ID, "error", err)
			}
		}
	})
}

// hostsOpen reports whether id is still our own, unclosed session.
func (m *Machine) hostsOpen(id matchmaking.SessionID) bool {
	var ok bool
	_ = m.call(func() {
		own, found := m.registry.OwnSession()
		ok = found && own.ID == id && own.State != matchmaking.SessionClosed
	})
	return ok
}

// markOwnState moves our own session to s and reports whether it is still
// ours and open. A closed session stays closed.
func (m *Machine) markOwnState(id matchmaking.SessionID, s matchmaking.SessionState) bool {
	own, ok := m.registry.OwnSession()
	if !ok || own.ID != id || own.State == matchmaking.SessionClosed {
		return false
	}
	if own.State != s {
		own.State = s
		m.registry.RecordOwnSession(own)
		m.notify(nil)
	}
	return true
}

// Search replaces the result set with sessions matching filter. The game key
// filter is always applied. Overlapping searches are allowed; the last one
// to complete wins.
func (m *Machine) Search(ctx context.Context, filter map[string]string, maxResults int) <-chan error {
	ctx = context.WithoutCancel(ctx)
	return m.submit(func(res chan<- error) {
		const op = "search"
		if m.state != StateIdle && m.state != StateSearching {
			m.refuse(op, invalidState(op, m.state), res)
			return
		}
		if !m.provider.Initialized() {
			m.refuse(op, fmt.Errorf("%s: %w", op, ErrProviderUnavailable), res)
			return
		}

		f := make(map[string]string, len(filter)+1)
		for k, v := range filter {
			f[k] = v
		}
		f[matchmaking.KeyGameKey] = m.cfg.GameKey
		if maxResults <= 0 {
			maxResults = m.cfg.DefaultMaxResults
		}

		// Old indices die as soon as a new search is issued.
		m.registry.ClearSearchResults()
		m.searches++
		m.setState(StateSearching)

		dispatch(m, ctx, op, res,
			func(ctx context.Context) ([]matchmaking.SessionDescriptor, error) {
				return m.provider.SearchSessions(ctx, f, maxResults)
			},
			func(list []matchmaking.SessionDescriptor, err error) {
				m.searches--
				if m.searches == 0 && m.state == StateSearching {
					m.setState(StateIdle)
				}
				if err != nil {
					err = classify(op, err)
					slog.Error("Session search failed", "filter", f, "error", err)
					res <- err
					return
				}
				m.registry.ReplaceSearchResults(list)
				slog.Info("Session search completed", "results", len(list))
				res <- nil
			}, nil)
	})
}

// Join takes a slot in the session at index of the current result set and
// travels to its host.
func (m *Machine) Join(ctx context.Context, index int) <-chan error {
	ctx = context.WithoutCancel(ctx)
	return m.submit(func(res chan<- error) {
		const op = "join"
		if m.state != StateIdle {
			m.refuse(op, invalidState(op, m.state), res)
			return
		}
		session, err := m.registry.At(index)
		if err != nil {
			m.refuse(op, err, res)
			return
		}
		if err := m.checkActor(op); err != nil {
			m.refuse(op, err, res)
			return
		}

		// State filtering is advisory; the provider decides eligibility.
		m.setState(StateJoining)
		slog.Info("Joining session", "sessionID", session.ID, "index", index, "state", session.State)

		dispatch(m, ctx, op, res,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, m.provider.JoinSession(ctx, session.ID)
			},
			func(_ struct{}, err error) {
				if err != nil {
					m.fail(op, classify(op, err), res, "sessionID", session.ID)
					return
				}
				m.onJoined(ctx, session, res)
			},
			func(ctx context.Context, _ struct{}) {
				// Hand back the slot the provider reserved for us.
				if err := m.provider.LeaveSession(ctx, session.ID, m.identity); err != nil {
					slog.Warn("Failed to release slot taken after timeout", "sessionID", session.ID, "error", err)
				}
			})
	})
}

func (m *Machine) onJoined(ctx context.Context, session matchmaking.SessionDescriptor, res chan<- error) {
	const op = "join"
	m.registry.Reset()
	m.registry.RecordOwnSession(session)
	m.registry.SetRole(RoleClient)
	m.registry.RecordMember(m.identity.Member())
	m.setState(StateJoined)
	slog.Info("Session joined", "sessionID", session.ID)
	m.notify(nil)

	dispatch(m, ctx, op, res,
		func(ctx context.Context) (string, error) {
			if err := m.provider.RegisterParticipant(ctx, session.ID, m.identity); err != nil {
				slog.Warn("Failed to register with provider", "sessionID", session.ID, "error", err)
			}
			return m.provider.ConnectAddress(ctx, session.ID)
		},
		func(addr string, err error) {
			if own, ok := m.registry.OwnSession(); !ok || own.ID != session.ID {
				res <- fmt.Errorf("%w: session %s was left before travel", ErrInvalidLocalState, session.ID)
				return
			}
			if err != nil {
				if !errors.Is(err, ErrTimeout) {
					err = &RemoteRejectedError{Op: op, Reason: matchmaking.ReasonAddressUnresolvable, Err: err}
				}
				m.leaveProvider(ctx, session)
				m.fail(op, err, res, "sessionID", session.ID)
				return
			}
			m.background(ctx, func(ctx context.Context) {
				if err := m.travel.TravelAsClient(ctx, session, addr); err != nil {
					slog.Error("Client travel failed", "sessionID", session.ID, "address", addr, "error", err)
				}
			})
			res <- nil
		}, nil)
}

func (m *Machine) leaveProvider(ctx context.Context, session matchmaking.SessionDescriptor) {
	m.background(ctx, func(ctx context.Context) {
		if err := m.provider.LeaveSession(ctx, session.ID, m.identity); err != nil {
			slog.Warn("Failed to leave session", "sessionID", session.ID, "error", err)
		}
	})
}

// SetReady records name's readiness locally.
func (m *Machine) SetReady(name string, ready bool) error {
	var err error
	if cerr := m.call(func() {
		if !m.state.inLobby() {
			err = invalidState("set ready", m.state)
			return
		}
		if err = m.registry.UpdateReady(name, ready); err != nil {
			return
		}
		m.setState(StateReadyCheck)
		m.notify(nil)
	}); cerr != nil {
		return cerr
	}
	return err
}

// AllReady is true when every member is ready, and for an empty lobby.
func (m *Machine) AllReady() bool {
	var ok bool
	_ = m.call(func() { ok = m.registry.AllReady() })
	return ok
}

// StartGame moves a ready lobby into gameplay. Only the host may start. A
// lobby that is empty or not fully ready is left alone and false is returned.
func (m *Machine) StartGame(ctx context.Context) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	var (
		started bool
		err     error
	)
	if cerr := m.call(func() {
		const op = "start game"
		if m.registry.Role() != RoleHost {
			err = fmt.Errorf("%w: only the host can start, role is %s", ErrInvalidLocalState, m.registry.Role())
			return
		}
		if !m.state.inLobby() {
			err = invalidState(op, m.state)
			return
		}
		members := m.registry.Members()
		if len(members) == 0 || !m.registry.AllReady() {
			slog.Info("Start requested but lobby is not ready", "members", len(members))
			return
		}

		own, _ := m.registry.OwnSession()
		own.State = matchmaking.SessionClosed
		m.registry.RecordOwnSession(own)
		m.setState(StateStarted)
		started = true
		slog.Info("Starting gameplay", "sessionID", own.ID, "players", len(members))
		m.notify(nil)

		m.background(ctx, func(ctx context.Context) {
			if err := m.travel.StartGameplay(ctx, own); err != nil {
				slog.Error("Gameplay start failed", "sessionID", own.ID, "error", err)
			}
			if err := m.provider.SetMetadata(ctx, own.ID, matchmaking.KeyState, matchmaking.SessionClosed.String()); err != nil {
				slog.Warn("Failed to close session", "sessionID", own.ID, "error", err)
			}
		})
	}); cerr != nil {
		return false, cerr
	}
	return started, err
}

// SyncMembers refreshes the member list from the provider. Local ready flags
// survive; members the provider no longer lists are dropped, except the local
// participant.
func (m *Machine) SyncMembers(ctx context.Context) <-chan error {
	ctx = context.WithoutCancel(ctx)
	return m.submit(func(res chan<- error) {
		const op = "sync members"
		if !m.state.inLobby() {
			m.refuse(op, invalidState(op, m.state), res)
			return
		}
		session, _ := m.registry.OwnSession()

		dispatch(m, ctx, op, res,
			func(ctx context.Context) ([]matchmaking.Member, error) {
				n, err := m.provider.MemberCount(ctx, session.ID)
				if err != nil {
					return nil, err
				}
				members := make([]matchmaking.Member, 0, n)
				for i := 0; i < n; i++ {
					mem, err := m.provider.MemberAt(ctx, session.ID, i)
					if err != nil {
						return nil, err
					}
					members = append(members, mem)
				}
				return members, nil
			},
			func(members []matchmaking.Member, err error) {
				if own, ok := m.registry.OwnSession(); !ok || own.ID != session.ID {
					res <- fmt.Errorf("%w: session %s was left during sync", ErrInvalidLocalState, session.ID)
					return
				}
				if err != nil {
					err = classify(op, err)
					slog.Error("Member sync failed", "sessionID", session.ID, "error", err)
					res <- err
					return
				}
				m.applyMembers(members)
				m.notify(nil)
				res <- nil
			}, nil)
	})
}

func (m *Machine) applyMembers(members []matchmaking.Member) {
	listed := make(map[string]bool, len(members))
	for _, mem := range members {
		listed[mem.DisplayName] = true
		if prev, ok := m.registry.Member(mem.DisplayName); ok {
			mem.Ready = prev.Ready
		}
		m.registry.RecordMember(mem)
	}
	for _, mem := range m.registry.Members() {
		if !listed[mem.DisplayName] && mem.DisplayName != m.identity.DisplayName {
			m.registry.RemoveMember(mem.DisplayName)
		}
	}
}

// Leave gives up the current session and returns to Idle.
func (m *Machine) Leave(ctx context.Context) <-chan error {
	ctx = context.WithoutCancel(ctx)
	return m.submit(func(res chan<- error) {
		const op = "leave"
		if !m.state.inLobby() {
			m.refuse(op, invalidState(op, m.state), res)
			return
		}
		session, _ := m.registry.OwnSession()
		hosting := m.registry.Role() == RoleHost
		m.registry.Reset()
		m.setState(StateIdle)
		slog.Info("Leaving session", "sessionID", session.ID, "host", hosting)
		m.notify(nil)

		if hosting {
			m.background(ctx, func(ctx context.Context) {
				if err := m.travel.StopHosting(ctx, session); err != nil {
					slog.Warn("Failed to stop hosting", "sessionID", session.ID, "error", err)
				}
			})
		}

		dispatch(m, ctx, op, res,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, m.provider.LeaveSession(ctx, session.ID, m.identity)
			},
			func(_ struct{}, err error) {
				if err != nil {
					slog.Warn("Provider leave failed", "sessionID", session.ID, "error", err)
					res <- classify(op, err)
					return
				}
				res <- nil
			}, nil)
	})
}

// Snapshot returns the current lobby view.
func (m *Machine) Snapshot() Update {
	var u Update
	if err := m.call(func() { u = m.snapshot() }); err != nil {
		u.Error = err.Error()
	}
	return u
}

func (m *Machine) State() State {
	return m.Snapshot().State
}

func (m *Machine) Role() Role {
	return m.Snapshot().Role
}

func (m *Machine) Members() []matchmaking.Member {
	return m.Snapshot().Members
}

// Results returns the raw result set of the last completed search.
func (m *Machine) Results() []matchmaking.SessionDescriptor {
	var out []matchmaking.SessionDescriptor
	_ = m.call(func() { out = m.registry.Results() })
	return out
}

// FilteredResults is the presentation view of Results: sessions that are in
// progress. Closed sessions never appear. Results itself is not modified.
func (m *Machine) FilteredResults() []matchmaking.SessionDescriptor {
	return FilterJoinable(m.Results())
}

// FilterJoinable keeps the in-progress descriptors of list.
func FilterJoinable(list []matchmaking.SessionDescriptor) []matchmaking.SessionDescriptor {
	out := make([]matchmaking.SessionDescriptor, 0, len(list))
	for _, d := range list {
		if Joinable(d) {
			out = append(out, d)
		}
	}
	return out
}

// Joinable reports whether d belongs in the presentation view.
func Joinable(d matchmaking.SessionDescriptor) bool {
	return d.State == matchmaking.SessionInProgress
}
