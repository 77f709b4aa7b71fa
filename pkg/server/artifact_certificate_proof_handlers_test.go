package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleArtifactMethodNotAllowed(t *testing.T) {
	h := NewArtifactHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/artifact/snapshot", nil)
	rr := httptest.NewRecorder()
	h.HandleArtifact(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleArtifactRejectsMissingKind(t *testing.T) {
	h := NewArtifactHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/artifact/", nil)
	rr := httptest.NewRecorder()
	h.HandleArtifact(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleArtifactRejectsUnknownKind(t *testing.T) {
	h := NewArtifactHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/artifact/not-a-kind", nil)
	rr := httptest.NewRecorder()
	h.HandleArtifact(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleGetCertificateMethodNotAllowed(t *testing.T) {
	h := NewCertificateHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/certificate/abc", nil)
	rr := httptest.NewRecorder()
	h.HandleGetCertificate(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleGetCertificateRejectsMissingHash(t *testing.T) {
	h := NewCertificateHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/certificate/", nil)
	rr := httptest.NewRecorder()
	h.HandleGetCertificate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleCardanoTransactionProofMethodNotAllowed(t *testing.T) {
	h := NewProofHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/proof/cardano-transaction", nil)
	rr := httptest.NewRecorder()
	h.HandleCardanoTransactionProof(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCardanoTransactionProofRejectsMissingHashes(t *testing.T) {
	h := NewProofHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/proof/cardano-transaction", nil)
	rr := httptest.NewRecorder()
	h.HandleCardanoTransactionProof(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
