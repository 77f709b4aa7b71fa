package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stakecert/aggregator/pkg/certifier"
	"github.com/stakecert/aggregator/pkg/entities"
	"github.com/stakecert/aggregator/pkg/epoch"
)

type fakeCertifierService struct {
	outcome certifier.Outcome
	err     error
}

func (f *fakeCertifierService) InformEpoch(context.Context, epoch.Epoch) error { return nil }
func (f *fakeCertifierService) CreateOpenMessage(context.Context, entities.SignedEntityType, entities.ProtocolMessage) (entities.OpenMessage, error) {
	return entities.OpenMessage{}, nil
}
func (f *fakeCertifierService) RegisterSingleSignature(context.Context, entities.SignedEntityType, entities.SingleSignature) (certifier.Outcome, error) {
	return f.outcome, f.err
}
func (f *fakeCertifierService) MarkOpenMessageIfExpired(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}
func (f *fakeCertifierService) CreateCertificate(context.Context, entities.SignedEntityType) (entities.Certificate, bool, error) {
	return entities.Certificate{}, false, nil
}
func (f *fakeCertifierService) VerifyCertificateChain(context.Context, string) (int, error) {
	return 0, nil
}

func TestHandleRegisterSignaturesMethodNotAllowed(t *testing.T) {
	h := NewSignatureHandlers(&fakeCertifierService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/register-signatures", nil)
	rr := httptest.NewRecorder()
	h.HandleRegisterSignatures(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleRegisterSignaturesRejectsEmptyBatch(t *testing.T) {
	h := NewSignatureHandlers(&fakeCertifierService{}, nil)

	body := `{"signed_entity_type":{"discriminant":"CardanoTransactions","epoch":3},"signatures":[]}`
	req := httptest.NewRequest(http.MethodPost, "/register-signatures", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.HandleRegisterSignatures(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleRegisterSignaturesAcceptsValidSignature(t *testing.T) {
	h := NewSignatureHandlers(&fakeCertifierService{outcome: certifier.Accepted}, nil)

	sigHex := hex.EncodeToString([]byte("a-signature"))
	body := `{"signed_entity_type":{"discriminant":"CardanoTransactions","epoch":3,"block_number":100},` +
		`"signatures":[{"party_id":"signer-a","indexes":[1,2],"signature":"` + sigHex + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/register-signatures", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.HandleRegisterSignatures(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var resp struct {
		Results []map[string]string `json:"results"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0]["outcome"] != "accepted" {
		t.Fatalf("results = %+v, want one accepted entry", resp.Results)
	}
}

func TestHandleRegisterSignaturesRejectsUnknownDiscriminant(t *testing.T) {
	h := NewSignatureHandlers(&fakeCertifierService{}, nil)

	body := `{"signed_entity_type":{"discriminant":"NotARealDiscriminant","epoch":3},` +
		`"signatures":[{"party_id":"signer-a","indexes":[1],"signature":"aa"}]}`
	req := httptest.NewRequest(http.MethodPost, "/register-signatures", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.HandleRegisterSignatures(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleRegisterSignaturesExpiredMapsToGone(t *testing.T) {
	h := NewSignatureHandlers(&fakeCertifierService{err: certifier.ErrExpired}, nil)

	sigHex := hex.EncodeToString([]byte("a-signature"))
	body := `{"signed_entity_type":{"discriminant":"CardanoTransactions","epoch":3,"block_number":100},` +
		`"signatures":[{"party_id":"signer-a","indexes":[1],"signature":"` + sigHex + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/register-signatures", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.HandleRegisterSignatures(rr, req)

	if rr.Code != http.StatusGone {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, http.StatusGone, rr.Body.String())
	}
}
