package keyhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

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
)

// maxBodyBytes bounds request bodies; a reshare of a few hundred shards
// fits comfortably.
const maxBodyBytes = 1 << 20

// Recorder receives engine-level events. *metrics.MetricsServer implements it.
type Recorder interface {
	IncSignature(purpose string)
	IncShardSubmission(outcome string)
	IncReshare()
	SetUnlocked(unlocked bool)
}

type nopRecorder struct{}

func (nopRecorder) IncSignature(string)       {}
func (nopRecorder) IncShardSubmission(string) {}
func (nopRecorder) IncReshare()               {}
func (nopRecorder) SetUnlocked(bool)          {}

// Handler serves the key engine API.
type Handler struct {
	engine  interfaces.KeyEngine
	log     *slog.Logger
	metrics Recorder
}

// NewHandler creates a handler around an engine.
func NewHandler(engine interfaces.KeyEngine, log *slog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		log:     log,
		metrics: nopRecorder{},
	}
}

// SetMetrics installs an event recorder.
func (h *Handler) SetMetrics(m Recorder) {
	h.metrics = m
	m.SetUnlocked(h.engine.Status().Unlocked)
}

// RegisterRoutes registers:
//   - GET  /api/v1/status
//   - GET  /api/v1/keys/{purpose}
//   - POST /api/v1/keys/{purpose}/sign
//   - POST /api/v1/shards/reshare
//   - POST /api/v1/shards/submit
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/status", h.HandleStatus)
	r.Get("/api/v1/keys/{purpose}", h.HandlePublicKey)
	r.Post("/api/v1/keys/{purpose}/sign", h.HandleSign)
	r.Post("/api/v1/shards/reshare", h.HandleReshare)
	r.Post("/api/v1/shards/submit", h.HandleSubmitShard)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, api.NewStatusResponse(h.engine.Status()))
}

// HandlePublicKey returns the extended public key of a purpose.
//
// Status codes:
//   - 200 OK
//   - 404 Not Found: unknown purpose
//   - 423 Locked: engine holds no seed
func (h *Handler) HandlePublicKey(w http.ResponseWriter, r *http.Request) {
	purpose := params.Purpose(chi.URLParam(r, "purpose"))

	key, err := h.engine.PublicKey(purpose)
	if err != nil {
		h.log.Error("Failed to derive public key", "err", err, "purpose", purpose)
		h.writeError(w, err)
		return
	}

	resp := publicKeyResponse(purpose, key)
	h.writeJSON(w, resp)
}

func publicKeyResponse(purpose params.Purpose, key *hdkey.Key) api.PublicKeyResponse {
	fp := key.Fingerprint()
	resp := api.PublicKeyResponse{
		Purpose:     string(purpose),
		ExtendedKey: key.String(),
		PublicKey:   key.PublicKeyBytes(),
		Fingerprint: fp[:],
	}
	if purpose == params.PurposeEthereum {
		resp.Address = key.EthereumAddress().Hex()
	}
	return resp
}

// HandleSign signs a message or a digest with a purpose key.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	purpose := params.Purpose(chi.URLParam(r, "purpose"))

	var req api.SignRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	var (
		sig []byte
		err error
	)
	if len(req.Digest) > 0 {
		sig, err = h.engine.SignHash(purpose, req.Digest)
	} else {
		sig, err = h.engine.Sign(purpose, req.Message)
	}
	if err != nil {
		h.log.Error("Failed to sign", "err", err, "purpose", purpose)
		h.writeError(w, err)
		return
	}

	h.metrics.IncSignature(string(purpose))
	h.writeJSON(w, api.SignResponse{Signature: sig})
}

// HandleReshare re-shares opened shards into a new level and returns it.
// The response carries shard values and must be sealed per participant
// before it leaves the caller.
func (h *Handler) HandleReshare(w http.ResponseWriter, r *http.Request) {
	var req api.ReshareRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	f := h.engine.Field()
	entries, err := req.DecodeEntries(f)
	if err != nil {
		h.writeError(w, err)
		return
	}

	level, err := h.engine.Reshare(entries, req.Threshold, req.Policy.Policy())
	if err != nil {
		h.log.Error("Failed to reshare", "err", err, "entries", len(entries))
		h.writeError(w, err)
		return
	}

	resp, err := api.NewLevelResponse(f, level)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.IncReshare()
	h.log.Info("Shards reshared", "consumed", len(resp.Ancestors), "produced", len(resp.Entries))
	h.writeJSON(w, resp)
}

// HandleSubmitShard accepts a device-signed shard and returns the resulting
// engine status.
func (h *Handler) HandleSubmitShard(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitShardRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	entry, err := recovery.FromWire(h.engine.Field(), req.Shard)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %w", api.ErrInvalidRequest, err))
		return
	}

	if err := h.engine.SubmitShard(entry, req.Signature); err != nil {
		h.log.Warn("Shard submission rejected", "err", err, "shardID", req.Shard.ShardID)
		h.metrics.IncShardSubmission("rejected")
		h.writeError(w, err)
		return
	}

	status := h.engine.Status()
	if status.Unlocked {
		h.metrics.IncShardSubmission("unlocked")
	} else {
		h.metrics.IncShardSubmission("accepted")
	}
	h.metrics.SetUnlocked(status.Unlocked)
	h.writeJSON(w, api.NewStatusResponse(status))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", api.ErrInvalidRequest, err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, params.ErrUnknownPurpose):
		return http.StatusNotFound
	case errors.Is(err, kms.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, kms.ErrAlreadyUnlocked):
		return http.StatusConflict
	case errors.Is(err, kms.ErrInvalidSignature),
		errors.Is(err, kms.ErrUnregisteredParticipant):
		return http.StatusForbidden
	case errors.Is(err, kms.ErrFingerprintMismatch),
		errors.Is(err, recovery.ErrRootSeedRecoveryFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrInvalidRequest),
		errors.Is(err, kms.ErrUnknownShard),
		errors.Is(err, shamir.ErrInvalidThreshold),
		errors.Is(err, shamir.ErrThresholdExceedsParticipants),
		errors.Is(err, shamir.ErrInvalidParticipantID),
		errors.Is(err, shamir.ErrInsufficientShares),
		errors.Is(err, shamir.ErrTooManyShares),
		errors.Is(err, field.ErrOutOfRange),
		errors.Is(err, eckey.ErrInvalidHashLength):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
