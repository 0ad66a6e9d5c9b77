package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// joinScript takes one open slot. Returns -1 when the session is missing or
// closed, -2 when it is full, otherwise the remaining open slots.
var joinScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[2], 'state') == 'Closed' then return -1 end
local open = tonumber(redis.call('HGET', KEYS[1], 'open_slots'))
if open <= 0 then return -2 end
return redis.call('HINCRBY', KEYS[1], 'open_slots', -1)
`)

// registerScript appends a member to the roster once and overwrites its data.
var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 0 then redis.call('RPUSH', KEYS[2], ARGV[1]) end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return redis.call('LLEN', KEYS[2])
`)

// leaveScript frees a slot and removes the member. Returns 1 when the owner
// left and the session was closed.
var leaveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HDEL', KEYS[4], ARGV[1]) == 1 then redis.call('LREM', KEYS[3], 0, ARGV[1]) end
local open = tonumber(redis.call('HGET', KEYS[1], 'open_slots'))
local max = tonumber(redis.call('HGET', KEYS[1], 'max_slots'))
if open < max then redis.call('HINCRBY', KEYS[1], 'open_slots', 1) end
if redis.call('HGET', KEYS[2], 'host_name') == ARGV[1] then
  redis.call('HSET', KEYS[2], 'state', 'Closed')
  return 1
end
return 0
`)

type redisProvider struct {
	rdb         *redis.Client
	poolKey     string
	sessionTTL  time.Duration
	initialized atomic.Bool
}

// NewRedisProvider returns a Provider whose session pool lives in Redis.
// Sessions are indexed in a sorted set at poolKey, scored by creation time.
// A zero sessionTTL keeps sessions until their owner leaves.
func NewRedisProvider(rdb *redis.Client, poolKey string, sessionTTL time.Duration) Provider {
	return &redisProvider{
		rdb:        rdb,
		poolKey:    poolKey,
		sessionTTL: sessionTTL,
	}
}

func (p *redisProvider) sessionKey(id SessionID) string { return fmt.Sprintf("%s:%s", p.poolKey, id) }
func (p *redisProvider) metaKey(id SessionID) string    { return p.sessionKey(id) + ":meta" }
func (p *redisProvider) rosterKey(id SessionID) string  { return p.sessionKey(id) + ":roster" }
func (p *redisProvider) membersKey(id SessionID) string { return p.sessionKey(id) + ":members" }

func (p *redisProvider) Initialize(ctx context.Context) error {
	if p.initialized.Load() {
		return ErrAlreadyInitialized
	}
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Matchmaking pool unreachable", "poolKey", p.poolKey, "error", err)
		return fmt.Errorf("ping matchmaking pool: %w", err)
	}
	if !p.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	slog.Info("Redis matchmaking provider initialized", "poolKey", p.poolKey)
	return nil
}

func (p *redisProvider) Initialized() bool {
	return p.initialized.Load()
}

func (p *redisProvider) Shutdown(ctx context.Context) error {
	p.initialized.Store(false)
	return nil
}

func (p *redisProvider) ready() error {
	if !p.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// CreateSession stores the session hash, its metadata and indexes it in the
// pool. The creator occupies one slot.
func (p *redisProvider) CreateSession(ctx context.Context, maxSlots int, metadata map[string]string) (SessionID, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	if err := validateCreate(maxSlots, metadata); err != nil {
		return 0, err
	}

	seq, err := p.rdb.Incr(ctx, p.poolKey+":seq").Result()
	if err != nil {
		slog.Error("Failed to allocate session id", "error", err)
		return 0, err
	}
	id := SessionID(seq)

	meta := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[KeySessionID] = id.String()
	if metadata[KeyState] == "" {
		meta[KeyState] = SessionOpen.String()
	}

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.sessionKey(id), "max_slots", maxSlots, "open_slots", maxSlots-1)
		pipe.HSet(ctx, p.metaKey(id), meta)
		pipe.ZAdd(ctx, p.poolKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: id.String()})
		if p.sessionTTL > 0 {
			pipe.Expire(ctx, p.sessionKey(id), p.sessionTTL)
			pipe.Expire(ctx, p.metaKey(id), p.sessionTTL)
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to create session in Redis pool", "sessionID", id, "error", err)
		return 0, err
	}
	slog.Info("Session created in matchmaking pool", "sessionID", id, "maxSlots", maxSlots, "map", metadata[KeyMapName])
	return id, nil
}

// SearchSessions walks the pool newest first and keeps sessions whose
// metadata matches every filter entry. Index entries whose session expired
// are pruned on the way.
func (p *redisProvider) SearchSessions(ctx context.Context, filter map[string]string, maxResults int) ([]SessionDescriptor, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	members, err := p.rdb.ZRevRange(ctx, p.poolKey, 0, -1).Result()
	if err != nil {
		slog.Error("Failed to read matchmaking pool", "error", err)
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	type fetched struct {
		id   SessionID
		slot *redis.MapStringStringCmd
		meta *redis.MapStringStringCmd
	}
	rows := make([]fetched, 0, len(members))
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			id, err := ParseSessionID(m)
			if err != nil {
				slog.Warn("Skipping malformed pool entry", "member", m)
				continue
			}
			rows = append(rows, fetched{
				id:   id,
				slot: pipe.HGetAll(ctx, p.sessionKey(id)),
				meta: pipe.HGetAll(ctx, p.metaKey(id)),
			})
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to fetch sessions from pool", "error", err)
		return nil, err
	}

	var (
		out   []SessionDescriptor
		stale []any
	)
	for _, row := range rows {
		slot, meta := row.slot.Val(), row.meta.Val()
		if len(slot) == 0 {
			stale = append(stale, row.id.String())
			continue
		}
		if !matchesFilter(meta, filter) {
			continue
		}
		if maxResults > 0 && len(out) >= maxResults {
			continue
		}
		maxSlots, _ := strconv.Atoi(slot["max_slots"])
		openSlots, _ := strconv.Atoi(slot["open_slots"])
		out = append(out, descriptorFromMetadata(row.id, maxSlots, openSlots, meta))
	}

	if len(stale) > 0 {
		if err := p.rdb.ZRem(ctx, p.poolKey, stale...).Err(); err != nil {
			slog.Warn("Failed to prune expired sessions from pool", "count", len(stale), "error", err)
		}
	}
	return out, nil
}

func (p *redisProvider) JoinSession(ctx context.Context, id SessionID) error {
	if err := p.ready(); err != nil {
		return err
	}
	res, err := joinScript.Run(ctx, p.rdb, []string{p.sessionKey(id), p.metaKey(id)}).Int()
	if err != nil {
		slog.Error("Join script failed", "sessionID", id, "error", err)
		return err
	}
	switch res {
	case -1:
		return &JoinError{SessionID: id, Reason: ReasonSessionNotFound}
	case -2:
		return &JoinError{SessionID: id, Reason: ReasonSessionFull}
	}
	slog.Info("Slot taken in session", "sessionID", id, "openSlots", res)
	return nil
}

// LeaveSession frees the caller's slot. The owner leaving closes the session
// and removes it from the pool index.
func (p *redisProvider) LeaveSession(ctx context.Context, id SessionID, identity Identity) error {
	if err := p.ready(); err != nil {
		return err
	}
	keys := []string{p.sessionKey(id), p.metaKey(id), p.rosterKey(id), p.membersKey(id)}
	res, err := leaveScript.Run(ctx, p.rdb, keys, identity.DisplayName).Int()
	if err != nil {
		slog.Error("Leave script failed", "sessionID", id, "error", err)
		return err
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	case 1:
		if err := p.rdb.ZRem(ctx, p.poolKey, id.String()).Err(); err != nil {
			slog.Warn("Failed to remove closed session from pool", "sessionID", id, "error", err)
		}
		slog.Info("Session closed by owner", "sessionID", id)
	}
	return nil
}

func (p *redisProvider) RegisterParticipant(ctx context.Context, id SessionID, identity Identity) error {
	if err := p.ready(); err != nil {
		return err
	}
	payload, err := json.Marshal(identity.Member())
	if err != nil {
		return err
	}
	keys := []string{p.sessionKey(id), p.rosterKey(id), p.membersKey(id)}
	n, err := registerScript.Run(ctx, p.rdb, keys, identity.DisplayName, payload).Int()
	if err != nil {
		slog.Error("Register script failed", "sessionID", id, "member", identity.DisplayName, "error", err)
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if p.sessionTTL > 0 {
		p.rdb.Expire(ctx, p.rosterKey(id), p.sessionTTL)
		p.rdb.Expire(ctx, p.membersKey(id), p.sessionTTL)
	}
	return nil
}

func (p *redisProvider) ConnectAddress(ctx context.Context, id SessionID) (string, error) {
	addr, err := p.Metadata(ctx, id, KeyHostAddress)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", &JoinError{SessionID: id, Reason: ReasonSessionNotFound}
		}
		return "", err
	}
	if addr == "" {
		return "", &JoinError{SessionID: id, Reason: ReasonAddressUnresolvable}
	}
	return addr, nil
}

func (p *redisProvider) SetMetadata(ctx context.Context, id SessionID, key, value string) error {
	if err := p.ready(); err != nil {
		return err
	}
	if len(value) > MaxMetadataValueLen {
		return fmt.Errorf("%w: key %q", ErrMetadataTooLong, key)
	}
	n, err := p.rdb.Exists(ctx, p.sessionKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return p.rdb.HSet(ctx, p.metaKey(id), key, value).Err()
}

func (p *redisProvider) Metadata(ctx context.Context, id SessionID, key string) (string, error) {
	if err := p.ready(); err != nil {
		return "", err
	}
	v, err := p.rdb.HGet(ctx, p.metaKey(id), key).Result()
	if errors.Is(err, redis.Nil) {
		n, err := p.rdb.Exists(ctx, p.sessionKey(id)).Result()
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return "", nil
	}
	return v, err
}

func (p *redisProvider) MemberCount(ctx context.Context, id SessionID) (int, error) {
	if err := p.ready(); err != nil {
		return 0, err
	}
	n, err := p.rdb.LLen(ctx, p.rosterKey(id)).Result()
	return int(n), err
}

func (p *redisProvider) MemberAt(ctx context.Context, id SessionID, index int) (Member, error) {
	if err := p.ready(); err != nil {
		return Member{}, err
	}
	if index < 0 {
		return Member{}, fmt.Errorf("%w: index %d", ErrMemberNotFound, index)
	}
	name, err := p.rdb.LIndex(ctx, p.rosterKey(id), int64(index)).Result()
	if errors.Is(err, redis.Nil) {
		return Member{}, fmt.Errorf("%w: index %d", ErrMemberNotFound, index)
	} else if err != nil {
		return Member{}, err
	}
	return p.member(ctx, id, name)
}

func (p *redisProvider) Owner(ctx context.Context, id SessionID) (Member, error) {
	name, err := p.Metadata(ctx, id, KeyHostName)
	if err != nil {
		return Member{}, err
	}
	return p.member(ctx, id, name)
}

func (p *redisProvider) member(ctx context.Context, id SessionID, name string) (Member, error) {
	raw, err := p.rdb.HGet(ctx, p.membersKey(id), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return Member{}, fmt.Errorf("%w: %q", ErrMemberNotFound, name)
	} else if err != nil {
		return Member{}, err
	}
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return Member{}, fmt.Errorf("decode member %q: %w", name, err)
	}
	return m, nil
}
