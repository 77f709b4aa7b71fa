package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/registerer"
)

// RegisterHandlers serves POST /register-signer, per spec.md §6.
type RegisterHandlers struct {
	registerer *registerer.Registerer
	epoch      CurrentEpochProvider
	logger     *log.Logger
}

// NewRegisterHandlers creates register-signer handlers.
func NewRegisterHandlers(r *registerer.Registerer, epochProvider CurrentEpochProvider, logger *log.Logger) *RegisterHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[RegisterAPI] ", log.LstdFlags)
	}
	return &RegisterHandlers{registerer: r, epoch: epochProvider, logger: logger}
}

// registerSignerRequest mirrors spec.md §6's wire shape. Keys are hex
// encoded; kes_period is accepted for wire compatibility but unused
// (KES key evolution is out of scope, the underlying signature scheme
// is treated as a primitive per spec.md's Non-goals).
type registerSignerRequest struct {
	PartyID            string `json:"party_id"`
	VerificationKey    string `json:"verification_key"`
	ProofOfPossession  string `json:"proof_of_possession"`
	KESPeriod          *uint64 `json:"kes_period,omitempty"`
}

// HandleRegisterSigner handles POST /register-signer.
func (h *RegisterHandlers) HandleRegisterSigner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerSignerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PartyID == "" {
		writeJSONError(w, "party_id is required", http.StatusBadRequest)
		return
	}

	vkBytes, err := hex.DecodeString(req.VerificationKey)
	if err != nil {
		writeJSONError(w, "verification_key must be hex encoded", http.StatusBadRequest)
		return
	}
	popBytes, err := hex.DecodeString(req.ProofOfPossession)
	if err != nil {
		writeJSONError(w, "proof_of_possession must be hex encoded", http.StatusBadRequest)
		return
	}

	currentEpoch := h.epoch.CurrentEpoch()
	vk := entities.VerificationKey{
		SignerID:          entities.SignerIdentity(req.PartyID),
		Epoch:             currentEpoch.Registration(),
		PublicKeyBytes:    vkBytes,
		ProofOfPossession: popBytes,
	}

	if err := h.registerer.Register(r.Context(), currentEpoch, vk); err != nil {
		switch {
		case errors.Is(err, registerer.ErrEpochClosed):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, registerer.ErrAlreadyRegistered):
			writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, registerer.ErrInvalidKey):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Printf("register signer: %v", err)
			writeJSONError(w, "failed to register signer", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"party_id": req.PartyID})
}
