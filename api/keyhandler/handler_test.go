package keyhandler

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/custody-keyengine/api"
	"github.com/ruteri/custody-keyengine/eckey"
	"github.com/ruteri/custody-keyengine/field"
	"github.com/ruteri/custody-keyengine/hdkey"
	"github.com/ruteri/custody-keyengine/interfaces"
	"github.com/ruteri/custody-keyengine/kms"
	"github.com/ruteri/custody-keyengine/params"
	"github.com/ruteri/custody-keyengine/recovery"
	"github.com/ruteri/custody-keyengine/shamir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Status() interfaces.EngineStatus {
	return m.Called().Get(0).(interfaces.EngineStatus)
}

func (m *mockEngine) PublicKey(purpose params.Purpose) (*hdkey.Key, error) {
	args := m.Called(purpose)
	key, _ := args.Get(0).(*hdkey.Key)
	return key, args.Error(1)
}

func (m *mockEngine) Sign(purpose params.Purpose, msg []byte) ([]byte, error) {
	args := m.Called(purpose, msg)
	sig, _ := args.Get(0).([]byte)
	return sig, args.Error(1)
}

func (m *mockEngine) SignHash(purpose params.Purpose, digest []byte) ([]byte, error) {
	args := m.Called(purpose, digest)
	sig, _ := args.Get(0).([]byte)
	return sig, args.Error(1)
}

func (m *mockEngine) Reshare(entries []recovery.ShardEntry, threshold int, policy shamir.ShardingPolicy) (*recovery.Level, error) {
	args := m.Called(entries, threshold, policy)
	level, _ := args.Get(0).(*recovery.Level)
	return level, args.Error(1)
}

func (m *mockEngine) SubmitShard(entry recovery.ShardEntry, signature []byte) error {
	return m.Called(entry, signature).Error(0)
}

func (m *mockEngine) Field() *field.Field {
	return m.Called().Get(0).(*field.Field)
}

type participant struct {
	kms.Participant
	key *btcec.PrivateKey
}

func newParticipants(t *testing.T, ids ...int64) []participant {
	out := make([]participant, len(ids))
	for i, id := range ids {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		out[i] = participant{
			Participant: kms.Participant{ID: big.NewInt(id), DevicePubKey: key.PubKey().SerializeCompressed()},
			key:         key,
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(h *Handler) *chi.Mux {
	mux := chi.NewRouter()
	h.RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func newUnlockedEngine(t *testing.T, ps []participant) (*kms.CustodyKMS, *recovery.Level) {
	seed := make([]byte, recovery.SeedLen)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	cfg := kms.CustodyConfig{Threshold: 2}
	for _, p := range ps {
		cfg.Participants = append(cfg.Participants, p.Participant)
	}
	engine, level, err := kms.NewCustodyKMS(seed, params.Default(), cfg)
	require.NoError(t, err)
	engine.SetLogger(testLogger())
	return engine, level
}

func TestHandler_KeysAndSigning(t *testing.T) {
	ps := newParticipants(t, 1, 2, 3)
	engine, _ := newUnlockedEngine(t, ps)
	mux := newRouter(NewHandler(engine, testLogger()))

	w := doJSON(t, mux, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[api.StatusResponse](t, w)
	assert.True(t, status.Unlocked)
	assert.Equal(t, "mainnet", status.Network)
	assert.Len(t, status.MasterFingerprint, eckey.FingerprintLen)
	assert.Equal(t, 3, status.Participants)

	w = doJSON(t, mux, http.MethodGet, "/api/v1/keys/ethereum", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pk := decodeBody[api.PublicKeyResponse](t, w)
	assert.Equal(t, "ethereum", pk.Purpose)
	assert.Contains(t, pk.ExtendedKey, "xpub")
	assert.Len(t, pk.PublicKey, eckey.CompressedPointLen)
	assert.NotEmpty(t, pk.Address)

	w = doJSON(t, mux, http.MethodGet, "/api/v1/keys/bitcoin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody[api.PublicKeyResponse](t, w).Address, "address is only set for ethereum")

	w = doJSON(t, mux, http.MethodGet, "/api/v1/keys/dogecoin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	key, err := hdkey.Parse(pk.ExtendedKey)
	require.NoError(t, err)

	msg := []byte("transfer 1 unit")
	w = doJSON(t, mux, http.MethodPost, "/api/v1/keys/ethereum/sign", api.SignRequest{Message: msg})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sig := decodeBody[api.SignResponse](t, w)
	assert.True(t, key.Verify(msg, sig.Signature))

	digest := sha256.Sum256(msg)
	w = doJSON(t, mux, http.MethodPost, "/api/v1/keys/ethereum/sign", api.SignRequest{Digest: digest[:]})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, eckey.VerifyHash(key.PublicKey(), digest[:], decodeBody[api.SignResponse](t, w).Signature))

	w = doJSON(t, mux, http.MethodPost, "/api/v1/keys/ethereum/sign", api.SignRequest{Message: msg, Digest: digest[:]})
	assert.Equal(t, http.StatusBadRequest, w.Code, "message and digest are exclusive")

	w = doJSON(t, mux, http.MethodPost, "/api/v1/keys/ethereum/sign", api.SignRequest{Digest: []byte{1, 2, 3}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "short digest")

	engine.Lock()
	w = doJSON(t, mux, http.MethodGet, "/api/v1/keys/ethereum", nil)
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestHandler_ReshareAndRecover(t *testing.T) {
	ps := newParticipants(t, 1, 2, 3, 4)
	engine, level := newUnlockedEngine(t, ps)
	mux := newRouter(NewHandler(engine, testLogger()))
	f := engine.Field()

	wire := make([]recovery.WireShard, 0, 2)
	for _, e := range level.Entries[:2] {
		ws, err := recovery.ToWire(f, e)
		require.NoError(t, err)
		wire = append(wire, ws)
	}

	w := doJSON(t, mux, http.MethodPost, "/api/v1/shards/reshare", api.ReshareRequest{
		Entries:   wire,
		Threshold: 2,
		Policy:    api.PolicyRequest{Threshold: 2, ParticipantIDs: []uint64{3, 4}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[api.LevelResponse](t, w)
	assert.Len(t, resp.Ancestors, 2)
	assert.Len(t, resp.Entries, 4)

	newLevel, err := resp.Level(f)
	require.NoError(t, err)

	engine.Lock()

	keys := map[string]*btcec.PrivateKey{}
	for _, p := range ps {
		keys[p.ID.String()] = p.key
	}

	// Recover from the reshared shards of the two consumed parents.
	var last api.StatusResponse
	for _, group := range recovery.ByParticipant(newLevel.Entries) {
		for _, e := range group {
			sig, err := kms.SignShard(f, e, keys[e.ParticipantID.String()])
			require.NoError(t, err)
			ws, err := recovery.ToWire(f, e)
			require.NoError(t, err)

			w = doJSON(t, mux, http.MethodPost, "/api/v1/shards/submit", api.SubmitShardRequest{Shard: ws, Signature: sig})
			if w.Code == http.StatusConflict {
				continue
			}
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			last = decodeBody[api.StatusResponse](t, w)
		}
	}
	assert.True(t, last.Unlocked)
	assert.True(t, engine.IsUnlocked())
}

func TestHandler_SubmitShardErrors(t *testing.T) {
	ps := newParticipants(t, 1, 2, 3)
	engine, level := newUnlockedEngine(t, ps)
	mux := newRouter(NewHandler(engine, testLogger()))
	f := engine.Field()

	entry := level.Entries[0]
	ws, err := recovery.ToWire(f, entry)
	require.NoError(t, err)
	sig, err := kms.SignShard(f, entry, ps[0].key)
	require.NoError(t, err)

	w := doJSON(t, mux, http.MethodPost, "/api/v1/shards/submit", api.SubmitShardRequest{Shard: ws, Signature: sig})
	assert.Equal(t, http.StatusConflict, w.Code, "engine is already unlocked")

	engine.Lock()

	w = doJSON(t, mux, http.MethodPost, "/api/v1/shards/submit", api.SubmitShardRequest{Shard: ws, Signature: []byte{0x30}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	bad := ws
	bad.Value = "00"
	w = doJSON(t, mux, http.MethodPost, "/api/v1/shards/submit", api.SubmitShardRequest{Shard: bad, Signature: sig})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shards/submit", bytes.NewReader([]byte(`{"unknown":1}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_MockEngine(t *testing.T) {
	f, err := field.New(params.Default().FieldPrime())
	require.NoError(t, err)

	engine := new(mockEngine)
	engine.On("Status").Return(interfaces.EngineStatus{Network: params.Testnet})
	engine.On("Field").Return(f)
	engine.On("PublicKey", params.PurposeCustody).Return(nil, kms.ErrLocked)
	engine.On("Reshare", mock.Anything, 3, mock.Anything).Return(nil, shamir.ErrInsufficientShares)

	rec := &countingRecorder{}
	h := NewHandler(engine, testLogger())
	h.SetMetrics(rec)
	mux := newRouter(h)

	w := doJSON(t, mux, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "testnet", decodeBody[api.StatusResponse](t, w).Network)

	w = doJSON(t, mux, http.MethodGet, "/api/v1/keys/custody", nil)
	assert.Equal(t, http.StatusLocked, w.Code)

	w = doJSON(t, mux, http.MethodPost, "/api/v1/shards/reshare", api.ReshareRequest{
		Threshold: 3,
		Policy:    api.PolicyRequest{Threshold: 2, ParticipantIDs: []uint64{1, 2}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, rec.reshares)

	engine.AssertExpectations(t)
}

type countingRecorder struct {
	signatures, submissions, reshares int
	unlocked                          bool
}

func (c *countingRecorder) IncSignature(string)       { c.signatures++ }
func (c *countingRecorder) IncShardSubmission(string) { c.submissions++ }
func (c *countingRecorder) IncReshare()               { c.reshares++ }
func (c *countingRecorder) SetUnlocked(u bool)        { c.unlocked = u }
