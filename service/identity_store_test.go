package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdentityStore(t *testing.T) (*IdentityStore, ports.Store) {
	t.Helper()
	kv := store.NewMemoryStore()
	return NewIdentityStore(kv), kv
}

func ptr[T any](v T) *T { return &v }

func TestIdentityStore_CreateAndLookup(t *testing.T) {
	s, _ := newIdentityStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &core.Identity{
		Address:       "0xABCDEF",
		Email:         " Ann@Example.com ",
		LinkedMethods: []core.Method{core.MethodGoogle},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "0xabcdef", created.Address)
	assert.Equal(t, "ann@example.com", created.Email)
	assert.False(t, created.CreatedAt.IsZero())

	byID, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	byAddr, err := s.GetByAddress(ctx, "0xAbCdEf")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAddr.ID)

	byEmail, err := s.GetByEmail(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = s.GetByID(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestIdentityStore_CreateConflictRollsBack(t *testing.T) {
	s, kv := newIdentityStore(t)
	ctx := context.Background()

	owner, err := s.Create(ctx, &core.Identity{Email: "taken@example.com"})
	require.NoError(t, err)

	_, err = s.Create(ctx, &core.Identity{Address: "0x01", Email: "taken@example.com"})
	require.ErrorIs(t, err, core.ErrIndexConflict)

	// Nothing of the loser survives.
	users, err := kv.Keys(ctx, userKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{userKeyPrefix + owner.ID}, users)
	ok, err := kv.Exists(ctx, addressKeyPrefix+"0x01")
	require.NoError(t, err)
	assert.False(t, ok)

	byEmail, err := s.GetByEmail(ctx, "taken@example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, byEmail.ID)
}

func TestIdentityStore_UpdateMovesIndexes(t *testing.T) {
	s, kv := newIdentityStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &core.Identity{Address: "0xaa", Email: "old@example.com"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, core.IdentityPatch{
		Address:    ptr("0xBB"),
		Email:      ptr("new@example.com"),
		Name:       ptr("Neo"),
		AddMethods: []core.Method{core.MethodMetamask, core.MethodMetamask},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xbb", updated.Address)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.Equal(t, "Neo", updated.Name)
	assert.Equal(t, []core.Method{core.MethodMetamask}, updated.LinkedMethods)

	for _, key := range []string{addressKeyPrefix + "0xaa", emailKeyPrefix + "old@example.com"} {
		ok, err := kv.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	for _, key := range []string{addressKeyPrefix + "0xbb", emailKeyPrefix + "new@example.com"} {
		v, err := kv.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, created.ID, v, key)
	}
}

func TestIdentityStore_UpdateConflictLeavesStateAlone(t *testing.T) {
	s, kv := newIdentityStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, &core.Identity{Address: "0xaa"})
	require.NoError(t, err)
	b, err := s.Create(ctx, &core.Identity{Address: "0xbb"})
	require.NoError(t, err)

	_, err = s.Update(ctx, a.ID, core.IdentityPatch{Address: ptr("0xbb")})
	require.ErrorIs(t, err, core.ErrIndexConflict)

	stored, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xaa", stored.Address)

	v, err := kv.Get(ctx, addressKeyPrefix+"0xaa")
	require.NoError(t, err)
	assert.Equal(t, a.ID, v)
	v, err = kv.Get(ctx, addressKeyPrefix+"0xbb")
	require.NoError(t, err)
	assert.Equal(t, b.ID, v)
}

// Another writer claims the new index between the pre-check and the claim.
type racingStore struct {
	ports.Store
	key, owner string
}

func (s *racingStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == s.key {
		if _, err := s.Store.SetNX(ctx, key, s.owner, 0); err != nil {
			return false, err
		}
	}
	return s.Store.SetNX(ctx, key, value, ttl)
}

func TestIdentityStore_UpdateLostRaceRestores(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	seed := NewIdentityStore(kv)
	created, err := seed.Create(ctx, &core.Identity{Address: "0xaa"})
	require.NoError(t, err)

	s := NewIdentityStore(&racingStore{Store: kv, key: addressKeyPrefix + "0xbb", owner: "intruder"})
	_, err = s.Update(ctx, created.ID, core.IdentityPatch{Address: ptr("0xbb")})
	require.ErrorIs(t, err, core.ErrIndexConflict)

	stored, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xaa", stored.Address)

	v, err := kv.Get(ctx, addressKeyPrefix+"0xaa")
	require.NoError(t, err)
	assert.Equal(t, created.ID, v)
	v, err = kv.Get(ctx, addressKeyPrefix+"0xbb")
	require.NoError(t, err)
	assert.Equal(t, "intruder", v)
}

func TestIdentityStore_ConcurrentUpdatesKeepEveryMethod(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	created, err := NewIdentityStore(kv).Create(ctx, &core.Identity{
		Address:       "0xaa",
		LinkedMethods: []core.Method{core.MethodMetamask},
	})
	require.NoError(t, err)

	added := []core.Method{core.MethodWalletConnect, core.MethodGoogle, core.MethodEmail}
	s := NewIdentityStore(newGatedStore(kv, userKeyPrefix+created.ID, len(added)))

	var wg sync.WaitGroup
	errs := make([]error, len(added))
	for i, m := range added {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen := time.Date(2025, 3, 1, 12, i, 0, 0, time.UTC)
			_, errs[i] = s.Update(ctx, created.ID, core.IdentityPatch{AddMethods: []core.Method{m}, LastLoginAt: &seen})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, append([]core.Method{core.MethodMetamask}, added...), stored.LinkedMethods)
	assert.Equal(t, "0xaa", stored.Address)
	assertIndexesConsistent(t, kv)
}

func TestIdentityStore_ConcurrentClaimsOfOneEmail(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	seed := NewIdentityStore(kv)
	a, err := seed.Create(ctx, &core.Identity{Address: "0xaa"})
	require.NoError(t, err)
	b, err := seed.Create(ctx, &core.Identity{Address: "0xbb"})
	require.NoError(t, err)

	s := NewIdentityStore(newGatedStore(kv, userKeyPrefix, 2))
	ids := []string{a.ID, b.ID}
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Update(ctx, id, core.IdentityPatch{
				Email:      ptr("shared@example.com"),
				AddMethods: []core.Method{core.MethodEmail},
			})
		}()
	}
	wg.Wait()

	var winner, loser string
	for i, err := range errs {
		if err == nil {
			winner = ids[i]
			continue
		}
		require.ErrorIs(t, err, core.ErrIndexConflict)
		loser = ids[i]
	}
	require.NotEmpty(t, winner)
	require.NotEmpty(t, loser)

	owner, err := s.GetByEmail(ctx, "shared@example.com")
	require.NoError(t, err)
	assert.Equal(t, winner, owner.ID)

	lost, err := s.GetByID(ctx, loser)
	require.NoError(t, err)
	assert.Empty(t, lost.Email)
	assert.False(t, lost.HasMethod(core.MethodEmail))
	assertIndexesConsistent(t, kv)
}

func TestIdentityStore_ModifyErrorWritesNothing(t *testing.T) {
	s, kv := newIdentityStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, &core.Identity{Address: "0xaa"})
	require.NoError(t, err)
	before, err := kv.Get(ctx, userKeyPrefix+created.ID)
	require.NoError(t, err)

	_, err = s.Modify(ctx, created.ID, func(identity *core.Identity) error {
		identity.Address = "0xbb"
		return core.ErrIdentityConflict
	})
	require.ErrorIs(t, err, core.ErrIdentityConflict)

	after, err := kv.Get(ctx, userKeyPrefix+created.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertIndexesConsistent(t, kv)
}

// Every swap loses, as if another writer always got there first.
type contendedStore struct {
	ports.Store
}

func (contendedStore) CompareAndSwap(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func TestIdentityStore_UpdateGivesUpUnderContention(t *testing.T) {
	kv := store.NewMemoryStore()
	ctx := context.Background()
	created, err := NewIdentityStore(kv).Create(ctx, &core.Identity{Address: "0xaa"})
	require.NoError(t, err)

	s := NewIdentityStore(contendedStore{Store: kv})
	_, err = s.Update(ctx, created.ID, core.IdentityPatch{Address: ptr("0xbb")})
	require.ErrorIs(t, err, core.ErrConcurrentUpdate)

	v, err := kv.Get(ctx, addressKeyPrefix+"0xaa")
	require.NoError(t, err)
	assert.Equal(t, created.ID, v)
	assertIndexesConsistent(t, kv)
}

func TestIdentityStore_UpdateMissing(t *testing.T) {
	s, _ := newIdentityStore(t)
	_, err := s.Update(context.Background(), "ghost", core.IdentityPatch{Name: ptr("x")})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestIdentityStore_Delete(t *testing.T) {
	s, kv := newIdentityStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &core.Identity{Address: "0xaa", Email: "del@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, created.ID))

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.ErrorIs(t, s.Delete(ctx, created.ID), core.ErrNotFound)
}

func TestIdentityStore_DanglingIndexIsDropped(t *testing.T) {
	s, kv := newIdentityStore(t)
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, addressKeyPrefix+"0xaa", "vanished", 0))

	_, err := s.GetByAddress(ctx, "0xaa")
	require.ErrorIs(t, err, core.ErrNotFound)

	ok, err := kv.Exists(ctx, addressKeyPrefix+"0xaa")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := s.Create(ctx, &core.Identity{Address: "0xaa"})
	require.NoError(t, err)
	found, err := s.GetByAddress(ctx, "0xaa")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}
