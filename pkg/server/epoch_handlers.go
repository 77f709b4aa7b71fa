package server

import (
	"log"
	"net/http"

	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/keystore"
	"github.com/stakecert/aggregator/pkg/protoparams"
)

// EpochSettingsHandler serves GET /epoch-settings, per spec.md §6.
type EpochSettingsHandler struct {
	keys   *keystore.Store
	params *protoparams.Store
	epoch  CurrentEpochProvider
	logger *log.Logger
}

// NewEpochSettingsHandler creates the epoch-settings handler.
func NewEpochSettingsHandler(keys *keystore.Store, params *protoparams.Store, epochProvider CurrentEpochProvider, logger *log.Logger) *EpochSettingsHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[EpochSettingsAPI] ", log.LstdFlags)
	}
	return &EpochSettingsHandler{keys: keys, params: params, epoch: epochProvider, logger: logger}
}

// HandleEpochSettings handles GET /epoch-settings.
func (h *EpochSettingsHandler) HandleEpochSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	current := h.epoch.CurrentEpoch()
	next := current.Registration()
	ctx := r.Context()

	params, err := h.params.Get(ctx, current)
	if err != nil {
		h.logger.Printf("load protocol parameters for epoch %d: %v", current, err)
		writeJSONError(w, "protocol parameters not yet set for current epoch", http.StatusServiceUnavailable)
		return
	}
	nextParams, err := h.params.Get(ctx, next)
	if err != nil {
		h.logger.Printf("load protocol parameters for epoch %d: %v", next, err)
	}

	currentSigners, err := h.keys.All(ctx, current)
	if err != nil {
		h.logger.Printf("load current signers: %v", err)
		writeJSONError(w, "failed to load current signers", http.StatusInternalServerError)
		return
	}
	nextSigners, err := h.keys.All(ctx, next)
	if err != nil {
		h.logger.Printf("load next signers: %v", err)
		writeJSONError(w, "failed to load next signers", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"epoch":                   uint64(current),
		"protocol_parameters":     params,
		"next_protocol_parameters": nextParams,
		"current_signers":         signerList(currentSigners),
		"next_signers":            signerList(nextSigners),
	})
}

func signerList(keys map[entities.SignerIdentity]entities.VerificationKey) []entities.VerificationKey {
	out := make([]entities.VerificationKey, 0, len(keys))
	for _, vk := range keys {
		out = append(out, vk)
	}
	return out
}
