package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/stakecert/aggregator/pkg/certifier"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

// SignatureHandlers serves POST /register-signatures, per spec.md §6.
type SignatureHandlers struct {
	certifier certifier.CertifierService
	logger    *log.Logger
}

// NewSignatureHandlers creates register-signatures handlers.
func NewSignatureHandlers(c certifier.CertifierService, logger *log.Logger) *SignatureHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[SignatureAPI] ", log.LstdFlags)
	}
	return &SignatureHandlers{certifier: c, logger: logger}
}

type wireSignedEntityType struct {
	Discriminant        string `json:"discriminant"`
	Epoch               uint64 `json:"epoch"`
	ImmutableFileNumber uint64 `json:"immutable_file_number,omitempty"`
	BlockNumber         uint64 `json:"block_number,omitempty"`
}

type wireSingleSignature struct {
	PartyID   string   `json:"party_id"`
	Indexes   []uint64 `json:"indexes"`
	Signature string   `json:"signature"`
}

type registerSignaturesRequest struct {
	SignedEntityType wireSignedEntityType  `json:"signed_entity_type"`
	Signatures       []wireSingleSignature `json:"signatures"`
}

// HandleRegisterSignatures handles POST /register-signatures.
func (h *SignatureHandlers) HandleRegisterSignatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerSignaturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Signatures) == 0 {
		writeJSONError(w, "signatures must be non-empty", http.StatusBadRequest)
		return
	}

	set := entities.SignedEntityType{
		Discriminant: entities.SignedEntityDiscriminant(req.SignedEntityType.Discriminant),
		Beacon: entities.Beacon{
			Epoch:               epoch.Epoch(req.SignedEntityType.Epoch),
			ImmutableFileNumber: req.SignedEntityType.ImmutableFileNumber,
			BlockNumber:         req.SignedEntityType.BlockNumber,
		},
	}
	if err := set.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]map[string]string, 0, len(req.Signatures))
	worstStatus := http.StatusCreated

	for _, wireSig := range req.Signatures {
		sigBytes, err := hex.DecodeString(wireSig.Signature)
		if err != nil {
			results = append(results, map[string]string{"party_id": wireSig.PartyID, "outcome": "rejected", "reason": "signature must be hex encoded"})
			worstStatus = maxStatus(worstStatus, http.StatusBadRequest)
			continue
		}

		sig := entities.SingleSignature{
			SignerID:  entities.SignerIdentity(wireSig.PartyID),
			Indices:   wireSig.Indexes,
			Signature: sigBytes,
		}
		if err := sig.Validate(); err != nil {
			results = append(results, map[string]string{"party_id": wireSig.PartyID, "outcome": "rejected", "reason": err.Error()})
			worstStatus = maxStatus(worstStatus, http.StatusBadRequest)
			continue
		}

		outcome, err := h.certifier.RegisterSingleSignature(r.Context(), set, sig)
		if err != nil {
			status, reason := classifyRejection(err)
			results = append(results, map[string]string{"party_id": wireSig.PartyID, "outcome": "rejected", "reason": reason})
			worstStatus = maxStatus(worstStatus, status)
			continue
		}
		results = append(results, map[string]string{"party_id": wireSig.PartyID, "outcome": outcome.String()})
	}

	writeJSON(w, worstStatus, map[string]interface{}{"results": results})
}

// classifyRejection maps a certifier rejection to the HTTP status
// spec.md §6 assigns it.
func classifyRejection(err error) (int, string) {
	switch {
	case errors.Is(err, certifier.ErrExpired):
		return http.StatusGone, err.Error()
	case errors.Is(err, certifier.ErrAlreadyCertified):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusBadRequest, err.Error()
	}
}

func maxStatus(a, b int) int {
	// Conflict/Gone take priority over a plain BadRequest so a batch
	// with a mix of failure kinds surfaces the most specific one.
	rank := func(status int) int {
		switch status {
		case http.StatusConflict, http.StatusGone:
			return 2
		case http.StatusBadRequest:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
