package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"go.uber.org/zap"
)

// maxUpdateAttempts bounds the read-modify-write retries of one update.
const maxUpdateAttempts = 32

var errRecordChanged = errors.New("identity record changed")

// index is one secondary lookup key of an identity.
type index struct {
	name string
	key  string
}

// IdentityStore persists identities and keeps the address and email
// indexes pointing at them. Every index value has exactly one owner.
type IdentityStore struct {
	store ports.Store
	opts  options
}

func NewIdentityStore(store ports.Store, opts ...Option) *IdentityStore {
	return &IdentityStore{store: store, opts: newOptions(opts)}
}

// GetByID returns core.ErrNotFound when no record exists.
func (s *IdentityStore) GetByID(ctx context.Context, id string) (*core.Identity, error) {
	_, identity, err := s.load(ctx, id)
	return identity, err
}

// load returns the stored record both raw and decoded.
func (s *IdentityStore) load(ctx context.Context, id string) (string, *core.Identity, error) {
	if id == "" {
		return "", nil, core.ErrNotFound
	}
	raw, err := s.store.Get(ctx, userKeyPrefix+id)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", nil, core.ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load identity: %w", err)
	}

	var identity core.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return "", nil, fmt.Errorf("decode identity %s: %w", id, err)
	}
	identity.ID = id
	return raw, &identity, nil
}

func (s *IdentityStore) GetByAddress(ctx context.Context, address string) (*core.Identity, error) {
	return s.getByIndex(ctx, addressKeyPrefix+core.NormalizeAddress(address))
}

func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*core.Identity, error) {
	return s.getByIndex(ctx, emailKeyPrefix+core.NormalizeEmail(email))
}

func (s *IdentityStore) getByIndex(ctx context.Context, key string) (*core.Identity, error) {
	id, err := s.store.Get(ctx, key)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	identity, err := s.GetByID(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		// Left behind by an interrupted delete.
		s.opts.log.Warn("dropping dangling index", zap.String("key", key), zap.String("user_id", id))
		if _, err := s.store.CompareAndDelete(ctx, key, id); err != nil {
			s.opts.log.Warn("failed to drop dangling index", zap.String("key", key), zap.Error(err))
		}
		return nil, core.ErrNotFound
	}
	return identity, err
}

// Create assigns a fresh id and persists the identity. If another identity
// already owns one of its indexes, everything written so far is undone and
// core.ErrIndexConflict is returned.
func (s *IdentityStore) Create(ctx context.Context, fields *core.Identity) (*core.Identity, error) {
	identity := fields.Clone()
	identity.ID = uuid.NewString()
	identity.Address = core.NormalizeAddress(identity.Address)
	identity.Email = core.NormalizeEmail(identity.Email)
	if identity.LinkedMethods == nil {
		identity.LinkedMethods = []core.Method{}
	}
	now := s.opts.now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	if identity.LastLoginAt.IsZero() {
		identity.LastLoginAt = now
	}

	if err := s.put(ctx, identity); err != nil {
		return nil, err
	}

	var claimed []string
	for _, idx := range indexesOf(identity) {
		if err := s.claim(ctx, idx, identity.ID); err != nil {
			s.release(ctx, identity.ID, claimed...)
			if err := s.store.Delete(ctx, userKeyPrefix+identity.ID); err != nil {
				s.opts.log.Warn("failed to roll back identity", zap.String("user_id", identity.ID), zap.Error(err))
			}
			return nil, err
		}
		claimed = append(claimed, idx.key)
	}
	return identity, nil
}

// Update applies patch to the identity.
func (s *IdentityStore) Update(ctx context.Context, id string, patch core.IdentityPatch) (*core.Identity, error) {
	return s.Modify(ctx, id, func(identity *core.Identity) error {
		patch.Apply(identity)
		return nil
	})
}

// Modify runs mutate on the freshly read record and writes the result back
// only if the record has not changed since it was read; otherwise it reads
// again and retries. Linked methods present in the stored record are always
// kept. Old index entries are removed before the record is written and new
// entries are claimed after it.
func (s *IdentityStore) Modify(ctx context.Context, id string, mutate func(*core.Identity) error) (*core.Identity, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	updated, err := backoff.Retry(ctx, func() (*core.Identity, error) {
		next, err := s.modifyOnce(ctx, id, mutate)
		if errors.Is(err, errRecordChanged) {
			s.opts.log.Debug("identity changed during update, retrying", zap.String("user_id", id))
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return next, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxUpdateAttempts))
	if errors.Is(err, errRecordChanged) {
		return nil, fmt.Errorf("identity %s: %w", id, core.ErrConcurrentUpdate)
	}
	return updated, err
}

func (s *IdentityStore) modifyOnce(ctx context.Context, id string, mutate func(*core.Identity) error) (*core.Identity, error) {
	raw, current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.Address = core.NormalizeAddress(next.Address)
	next.Email = core.NormalizeEmail(next.Email)
	for _, m := range current.LinkedMethods {
		next.AddMethod(m)
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	if string(encoded) == raw {
		return next, nil
	}

	dropped, added := indexDiff(current, next)
	for _, idx := range added {
		owner, err := s.store.Get(ctx, idx.key)
		if errors.Is(err, ports.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read index: %w", err)
		}
		if owner != id {
			s.opts.metrics.IndexConflict(idx.name)
			return nil, fmt.Errorf("%s index: %w", idx.name, core.ErrIndexConflict)
		}
	}

	for _, idx := range dropped {
		s.release(ctx, id, idx.key)
	}
	swapped, err := s.store.CompareAndSwap(ctx, userKeyPrefix+id, raw, string(encoded))
	if err != nil || !swapped {
		s.reconcile(ctx, id, dropped)
		if err != nil {
			return nil, fmt.Errorf("failed to save identity: %w", err)
		}
		return nil, errRecordChanged
	}

	for _, idx := range added {
		if err := s.claim(ctx, idx, id); err != nil {
			if _, rerr := s.store.CompareAndSwap(ctx, userKeyPrefix+id, string(encoded), raw); rerr != nil {
				s.opts.log.Error("failed to restore identity", zap.String("user_id", id), zap.Error(rerr))
			}
			s.reconcile(ctx, id, append(dropped, added...))
			return nil, err
		}
	}
	return next, nil
}

// reconcile makes the given index keys agree with the stored record: keys
// the record carries point at id, the rest no longer do.
func (s *IdentityStore) reconcile(ctx context.Context, id string, idxs []index) {
	if len(idxs) == 0 {
		return
	}
	identity, err := s.GetByID(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		s.opts.log.Error("failed to reconcile indexes", zap.String("user_id", id), zap.Error(err))
		return
	}

	wanted := map[string]bool{}
	if identity != nil {
		for _, idx := range indexesOf(identity) {
			wanted[idx.key] = true
		}
	}
	for _, idx := range idxs {
		if !wanted[idx.key] {
			s.release(ctx, id, idx.key)
			continue
		}
		if ok, err := s.store.SetNX(ctx, idx.key, id, 0); err != nil || !ok {
			owner, _ := s.store.Get(ctx, idx.key)
			if owner != id {
				s.opts.log.Error("index held elsewhere", zap.String("key", idx.key), zap.String("owner", owner), zap.Error(err))
			}
		}
	}
}

// Delete removes the indexes first, then the record.
func (s *IdentityStore) Delete(ctx context.Context, id string) error {
	identity, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	for _, idx := range indexesOf(identity) {
		if _, err := s.store.CompareAndDelete(ctx, idx.key, id); err != nil {
			return fmt.Errorf("failed to delete %s index: %w", idx.name, err)
		}
	}
	if err := s.store.Delete(ctx, userKeyPrefix+id); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) put(ctx context.Context, identity *core.Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := s.store.Set(ctx, userKeyPrefix+identity.ID, string(raw), 0); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// claim points idx at id unless someone else got there first.
func (s *IdentityStore) claim(ctx context.Context, idx index, id string) error {
	ok, err := s.store.SetNX(ctx, idx.key, id, 0)
	if err != nil {
		return fmt.Errorf("failed to claim %s index: %w", idx.name, err)
	}
	if ok {
		return nil
	}
	owner, err := s.store.Get(ctx, idx.key)
	if err == nil && owner == id {
		return nil
	}
	s.opts.metrics.IndexConflict(idx.name)
	return fmt.Errorf("%s index: %w", idx.name, core.ErrIndexConflict)
}

// release removes index keys that still point at id.
func (s *IdentityStore) release(ctx context.Context, id string, keys ...string) {
	for _, key := range keys {
		if _, err := s.store.CompareAndDelete(ctx, key, id); err != nil {
			s.opts.log.Warn("failed to release index", zap.String("key", key), zap.Error(err))
		}
	}
}

func indexDiff(current, next *core.Identity) (dropped, added []index) {
	if next.Address != current.Address {
		if current.Address != "" {
			dropped = append(dropped, index{"address", addressKeyPrefix + current.Address})
		}
		if next.Address != "" {
			added = append(added, index{"address", addressKeyPrefix + next.Address})
		}
	}
	if next.Email != current.Email {
		if current.Email != "" {
			dropped = append(dropped, index{"email", emailKeyPrefix + current.Email})
		}
		if next.Email != "" {
			added = append(added, index{"email", emailKeyPrefix + next.Email})
		}
	}
	return dropped, added
}

func indexesOf(identity *core.Identity) []index {
	var out []index
	if identity.Address != "" {
		out = append(out, index{"address", addressKeyPrefix + identity.Address})
	}
	if identity.Email != "" {
		out = append(out, index{"email", emailKeyPrefix + identity.Email})
	}
	return out
}
