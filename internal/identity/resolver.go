// Package identity maps chat handles to stable directory user ids.
//
// Handles are not stable: users rename, and a freed handle can later be
// taken by somebody else. The resolver trusts its cache until a lookup
// keyed by id shows that a handle now belongs to a different user, at
// which point the cached association is replaced.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/edgard/recbot/internal/errors"
	"github.com/edgard/recbot/internal/osu"
)

// Directory is the external user directory.
type Directory interface {
	// ResolveHandle returns a ResolutionError if the handle is unknown and
	// a CommunicationError if the directory could not be reached.
	ResolveHandle(ctx context.Context, handle string) (*osu.User, error)
	// GetUser returns nil, nil if the id is unknown.
	GetUser(ctx context.Context, id int) (*osu.User, error)
}

// AliasStore persists handle to id associations across restarts.
type AliasStore interface {
	GetAlias(ctx context.Context, handle string) (userID int, found bool, err error)
	SaveAlias(ctx context.Context, handle string, userID int) error
	// DeleteAlias removes the association if it still points to userID.
	DeleteAlias(ctx context.Context, handle string, userID int) error
}

// AnyAge accepts a cached directory entry regardless of its age.
const AnyAge = time.Duration(math.MaxInt64)

// DefaultUserMaxAge is how long ResolveUser trusts a fetched entry.
const DefaultUserMaxAge = 10 * time.Minute

// DefaultMissTTL is how long a handle the directory does not know is
// answered from memory.
const DefaultMissTTL = time.Minute

type cachedUser struct {
	user      *osu.User
	fetchedAt time.Time
}

// Resolver resolves chat handles. Safe for concurrent use.
type Resolver struct {
	dir        Directory
	aliases    AliasStore
	log        *slog.Logger
	userMaxAge time.Duration
	missTTL    time.Duration

	handles sync.Map // normalized handle -> int
	users   sync.Map // int -> cachedUser
	misses  sync.Map // normalized handle -> time.Time
	group   singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUserMaxAge sets how long ResolveUser trusts a fetched directory
// entry before fetching it again.
func WithUserMaxAge(d time.Duration) Option {
	return func(r *Resolver) {
		r.userMaxAge = d
	}
}

// WithMissTTL sets how long an unknown handle is remembered as unknown.
// Zero disables the negative cache.
func WithMissTTL(d time.Duration) Option {
	return func(r *Resolver) {
		r.missTTL = d
	}
}

// NewResolver creates a Resolver. aliases may be nil, in which case only
// the in-memory cache is used.
func NewResolver(dir Directory, aliases AliasStore, log *slog.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{
		dir:        dir,
		aliases:    aliases,
		log:        log.With("component", "identity_resolver"),
		userMaxAge: DefaultUserMaxAge,
		missTTL:    DefaultMissTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the user id for handle. A cached association is trusted
// without any external call.
func (r *Resolver) Resolve(ctx context.Context, handle string) (int, error) {
	key := osu.NormalizeName(handle)
	if key == "" {
		return 0, apperrors.NewResolutionError(handle)
	}
	if id, ok := r.handles.Load(key); ok {
		return id.(int), nil
	}
	if r.recentMiss(key) {
		return 0, apperrors.NewResolutionError(handle)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolveMiss(ctx, key, handle)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Resolver) resolveMiss(ctx context.Context, key, handle string) (int, error) {
	if r.aliases != nil {
		id, found, err := r.aliases.GetAlias(ctx, key)
		if err != nil {
			r.log.WarnContext(ctx, "Failed to load stored alias, asking directory", "handle", handle, "error", err)
		} else if found {
			r.remember(key, id)
			return id, nil
		}
	}
	return r.resolveDirectory(ctx, key, handle)
}

// ResolveFresh bypasses the cache and the alias store and asks the
// directory. The result replaces whatever was cached for the handle.
func (r *Resolver) ResolveFresh(ctx context.Context, handle string) (int, error) {
	key := osu.NormalizeName(handle)
	if key == "" {
		return 0, apperrors.NewResolutionError(handle)
	}
	v, err, _ := r.group.Do("fresh:"+key, func() (any, error) {
		return r.resolveDirectory(ctx, key, handle)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Resolver) resolveDirectory(ctx context.Context, key, handle string) (int, error) {
	user, err := r.dir.ResolveHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnresolvable) && r.missTTL > 0 {
			r.misses.Store(key, time.Now())
		}
		return 0, err
	}
	r.misses.Delete(key)
	r.storeUser(user)
	r.remember(key, user.ID)
	r.persist(ctx, key, user.ID)
	return user.ID, nil
}

// GetUser returns the directory entry for id, reusing a previously
// fetched entry that is not older than maxAge. A fetched entry always
// wins over a stale handle association: if the user's current name was
// cached for a different id, that association is replaced.
func (r *Resolver) GetUser(ctx context.Context, id int, maxAge time.Duration) (*osu.User, error) {
	if v, ok := r.users.Load(id); ok {
		c := v.(cachedUser)
		if time.Since(c.fetchedAt) < maxAge {
			return c.user, nil
		}
	}

	v, err, _ := r.group.Do("id:"+strconv.Itoa(id), func() (any, error) {
		u, err := r.dir.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, apperrors.NewResolutionError(fmt.Sprintf("#%d", id))
		}
		r.storeUser(u)
		key := osu.NormalizeName(u.Name)
		r.misses.Delete(key)
		if r.remember(key, u.ID) {
			r.persist(ctx, key, u.ID)
		}
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*osu.User), nil
}

// ResolveUser resolves handle and returns the matching directory entry.
// If the entry's current name does not match the handle anymore (the
// user renamed and someone else may own the handle now), the handle is
// resolved again against the directory. If nobody owns it anymore, the
// stale association is dropped from the cache and the alias store.
func (r *Resolver) ResolveUser(ctx context.Context, handle string) (*osu.User, error) {
	id, err := r.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}
	user, err := r.GetUser(ctx, id, r.userMaxAge)
	switch {
	case errors.Is(err, apperrors.ErrUnresolvable):
		r.log.InfoContext(ctx, "Cached handle points to an unknown user, resolving again",
			"handle", handle, "cached_user_id", id)
	case err != nil:
		return nil, err
	case osu.NormalizeName(user.Name) == osu.NormalizeName(handle):
		return user, nil
	default:
		r.log.InfoContext(ctx, "Cached handle points to a renamed user, resolving again",
			"handle", handle, "cached_user_id", id, "current_name", user.Name)
	}

	freshID, err := r.ResolveFresh(ctx, handle)
	if errors.Is(err, apperrors.ErrUnresolvable) {
		r.forget(ctx, osu.NormalizeName(handle), id)
	}
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, freshID, 0)
}

// cached returns the cached id for handle without any external call.
func (r *Resolver) cached(handle string) (int, bool) {
	id, ok := r.handles.Load(osu.NormalizeName(handle))
	if !ok {
		return 0, false
	}
	return id.(int), true
}

// FlushCache drops every cached association and every remembered miss.
// Stored aliases are kept.
func (r *Resolver) FlushCache() {
	r.handles.Clear()
	r.users.Clear()
	r.misses.Clear()
	r.log.Info("Identity cache flushed")
}

func (r *Resolver) recentMiss(key string) bool {
	v, ok := r.misses.Load(key)
	if !ok {
		return false
	}
	if time.Since(v.(time.Time)) < r.missTTL {
		return true
	}
	r.misses.CompareAndDelete(key, v)
	return false
}

// forget drops key -> staleID unless another writer already replaced it.
func (r *Resolver) forget(ctx context.Context, key string, staleID int) {
	if r.handles.CompareAndDelete(key, staleID) {
		r.log.InfoContext(ctx, "Handle no longer resolves, association dropped",
			"handle", key, "previous_user_id", staleID)
	}
	if r.aliases == nil {
		return
	}
	if err := r.aliases.DeleteAlias(ctx, key, staleID); err != nil {
		r.log.WarnContext(ctx, "Failed to delete stale alias", "handle", key, "user_id", staleID, "error", err)
	}
}

func (r *Resolver) storeUser(u *osu.User) {
	r.users.Store(u.ID, cachedUser{user: u, fetchedAt: time.Now()})
}

// remember stores key -> id, replacing a different cached id with a
// compare-and-swap so that concurrent writers never lose an update
// silently. It reports whether the cache changed.
func (r *Resolver) remember(key string, id int) bool {
	if key == "" {
		return false
	}
	for {
		prev, loaded := r.handles.LoadOrStore(key, id)
		if !loaded {
			return true
		}
		if prev.(int) == id {
			return false
		}
		if r.handles.CompareAndSwap(key, prev, id) {
			r.log.Info("Handle now belongs to a different user",
				"handle", key, "previous_user_id", prev, "user_id", id)
			return true
		}
	}
}

func (r *Resolver) persist(ctx context.Context, key string, id int) {
	if r.aliases == nil {
		return
	}
	if err := r.aliases.SaveAlias(ctx, key, id); err != nil {
		r.log.WarnContext(ctx, "Failed to store alias", "handle", key, "user_id", id, "error", err)
	}
}
