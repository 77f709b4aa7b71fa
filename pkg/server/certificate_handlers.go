package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/stakecert/aggregator/pkg/chainer"
	"github.com/stakecert/aggregator/pkg/database"
)

// CertificateHandlers serves GET /certificate/{hash}, per spec.md §6.
type CertificateHandlers struct {
	certificates *chainer.Store
	logger       *log.Logger
}

// NewCertificateHandlers creates the certificate-lookup handler.
func NewCertificateHandlers(certificates *chainer.Store, logger *log.Logger) *CertificateHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[CertificateAPI] ", log.LstdFlags)
	}
	return &CertificateHandlers{certificates: certificates, logger: logger}
}

// HandleGetCertificate handles GET /certificate/{hash}.
func (h *CertificateHandlers) HandleGetCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hash := strings.TrimPrefix(r.URL.Path, "/certificate/")
	if hash == "" || hash == r.URL.Path {
		writeJSONError(w, "certificate hash is required", http.StatusBadRequest)
		return
	}

	cert, err := h.certificates.ByHash(r.Context(), hash)
	if err != nil {
		if errors.Is(err, database.ErrCertificateNotFound) {
			writeJSONError(w, "certificate not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("get certificate %s: %v", hash, err)
		writeJSONError(w, "failed to load certificate", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, cert)
}
