// Package server implements the signer-facing and read-only HTTP
// endpoints of spec.md §6, in the teacher's pkg/server style: manual
// strings.TrimPrefix path parsing, no router dependency, one handler
// struct per concern, writeJSON/writeJSONError helpers shared across
// files.
package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// Server wires the individual handler groups onto a single mux.
type Server struct {
	mux    *http.ServeMux
	logger *log.Logger
}

// New builds the HTTP surface from its handler groups.
func New(register *RegisterHandlers, signatures *SignatureHandlers, epochSettings *EpochSettingsHandler,
	artifacts *ArtifactHandlers, certificates *CertificateHandlers, proofs *ProofHandlers, metricsHandler http.Handler,
	logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}

	s := &Server{mux: http.NewServeMux(), logger: logger}

	s.mux.HandleFunc("/register-signer", register.HandleRegisterSigner)
	s.mux.HandleFunc("/register-signatures", signatures.HandleRegisterSignatures)
	s.mux.HandleFunc("/epoch-settings", epochSettings.HandleEpochSettings)
	s.mux.HandleFunc("/artifact/", artifacts.HandleArtifact)
	s.mux.HandleFunc("/certificate/", certificates.HandleGetCertificate)
	s.mux.HandleFunc("/proof/cardano-transaction", proofs.HandleCardanoTransactionProof)
	if metricsHandler != nil {
		s.mux.Handle("/metrics", metricsHandler)
	}

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
