package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.CertificateTotal.Inc()
	m.SignatureRegistrationTotal.WithLabelValues("accepted").Inc()
	m.CurrentEpoch.Set(42)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{"certificate_total", "signature_registration_total", "current_epoch"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
