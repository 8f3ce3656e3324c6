package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEvents struct {
	mu      sync.Mutex
	created []string
	linked  []core.Method
	logins  []string
	logouts []string
}

func (e *recordingEvents) PublishIdentityCreated(_ context.Context, identity *core.Identity, _ core.Method) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, identity.ID)
	return nil
}

func (e *recordingEvents) PublishMethodLinked(_ context.Context, _ string, method core.Method) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.linked = append(e.linked, method)
	return nil
}

func (e *recordingEvents) PublishLogin(_ context.Context, _ string, _ core.Method, tokenID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logins = append(e.logins, tokenID)
	return nil
}

func (e *recordingEvents) PublishLogout(_ context.Context, _ string, tokenID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logouts = append(e.logouts, tokenID)
	return nil
}

func (e *recordingEvents) createdCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.created)
}

type recordingMailer struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
}

func (m *recordingMailer) SendMagicLink(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[email] = token
	return nil
}

func (m *recordingMailer) tokenFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

type fakeAuthority struct {
	permittees map[string]bool
	names      map[string]string
	err        error
}

func (a *fakeAuthority) CheckPermittee(_ context.Context, address string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.permittees[strings.ToLower(address)], nil
}

func (a *fakeAuthority) OwnerDetails(_ context.Context, address string) (*ports.OwnerDetails, error) {
	if a.err != nil {
		return nil, a.err
	}
	name, ok := a.names[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	return &ports.OwnerDetails{Name: name, Picture: "https://img.example/" + name}, nil
}

// flakyStore fails selected operations with a store outage.
type flakyStore struct {
	ports.Store
	failExists bool
}

func (s *flakyStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.failExists {
		return false, errors.Join(core.ErrStoreUnavailable, errors.New("connection refused"))
	}
	return s.Store.Exists(ctx, key)
}

// gatedStore holds the first n record swaps under prefix until all n have
// arrived, so every caller writes against the same stale read.
type gatedStore struct {
	ports.Store
	prefix string
	n      int32
	calls  atomic.Int32
	ready  sync.WaitGroup
}

func newGatedStore(kv ports.Store, prefix string, n int) *gatedStore {
	g := &gatedStore{Store: kv, prefix: prefix, n: int32(n)}
	g.ready.Add(n)
	return g
}

func (g *gatedStore) CompareAndSwap(ctx context.Context, key, old, value string) (bool, error) {
	if strings.HasPrefix(key, g.prefix) && g.calls.Add(1) <= g.n {
		g.ready.Done()
		g.ready.Wait()
	}
	return g.Store.CompareAndSwap(ctx, key, old, value)
}

// assertIndexesConsistent checks that every record value is indexed to its
// record and that no index points at a record lacking that value.
func assertIndexesConsistent(t *testing.T, kv ports.Store) {
	t.Helper()
	ctx := context.Background()
	identities := NewIdentityStore(kv)

	users, err := kv.Keys(ctx, userKeyPrefix)
	require.NoError(t, err)
	indexed := map[string]string{}
	for _, key := range users {
		identity, err := identities.GetByID(ctx, strings.TrimPrefix(key, userKeyPrefix))
		require.NoError(t, err)
		for _, idx := range indexesOf(identity) {
			owner, err := kv.Get(ctx, idx.key)
			require.NoError(t, err, idx.key)
			assert.Equal(t, identity.ID, owner, idx.key)
			indexed[idx.key] = identity.ID
		}
	}

	for _, prefix := range []string{addressKeyPrefix, emailKeyPrefix} {
		keys, err := kv.Keys(ctx, prefix)
		require.NoError(t, err)
		for _, key := range keys {
			_, ok := indexed[key]
			assert.True(t, ok, "index %s has no matching record", key)
		}
	}
}

type harness struct {
	svc       *AuthService
	store     *flakyStore
	clock     *fakeClock
	events    *recordingEvents
	mailer    *recordingMailer
	authority *fakeAuthority
	tokenizer *tokenizer.JWTTokenizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	h := &harness{
		store:     &flakyStore{Store: store.NewMemoryStore().WithClock(clock.Now)},
		clock:     clock,
		events:    &recordingEvents{},
		mailer:    &recordingMailer{},
		authority: &fakeAuthority{permittees: map[string]bool{}, names: map[string]string{}},
		tokenizer: tokenizer.NewJWTTokenizer(
			[]byte("access-secret"), []byte("refresh-secret"),
			"auth.genobank.app", "genobank.app",
			tokenizer.WithClock(clock.Now),
		),
	}
	h.svc = NewAuthService(Config{
		Store:      h.store,
		Tokenizer:  h.tokenizer,
		Signatures: eth.NewPersonalSignVerifier(eth.DefaultChallenge),
		Events:     h.events,
		Mailer:     h.mailer,
		Permittees: h.authority,
		Owners:     h.authority,
	}, WithClock(clock.Now), WithLogger(zaptest.NewLogger(t)))
	return h
}

func (h *harness) userKeys(t *testing.T) []string {
	t.Helper()
	keys, err := h.store.Keys(context.Background(), userKeyPrefix)
	require.NoError(t, err)
	return keys
}

// emailLogin runs the magic link flow for email.
func (h *harness) emailLogin(t *testing.T, email string) *core.LoginResult {
	t.Helper()
	ctx := context.Background()
	res, err := h.svc.Authenticate(ctx, core.EmailRequest{Email: email})
	require.NoError(t, err)
	require.True(t, res.Pending)

	res, err = h.svc.ConsumeEmailProof(ctx, h.mailer.tokenFor(core.NormalizeEmail(email)))
	require.NoError(t, err)
	return res
}

type wallet struct {
	key     *ecdsa.PrivateKey
	Address string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, Address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T) string {
	t.Helper()
	sig, err := eth.Sign(eth.DefaultChallenge, w.key)
	require.NoError(t, err)
	return sig
}

func (w wallet) metamask(t *testing.T) core.MetamaskProof {
	return core.MetamaskProof{Address: w.Address, Signature: w.sign(t)}
}

func (w wallet) lower() string {
	return strings.ToLower(w.Address)
}
