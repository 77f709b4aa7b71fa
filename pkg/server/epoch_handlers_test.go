package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleEpochSettingsMethodNotAllowed(t *testing.T) {
	h := NewEpochSettingsHandler(nil, nil, fixedEpochProvider(3), nil)

	req := httptest.NewRequest(http.MethodPost, "/epoch-settings", nil)
	rr := httptest.NewRecorder()
	h.HandleEpochSettings(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}
