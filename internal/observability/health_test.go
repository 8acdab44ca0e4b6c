package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthServer(t *testing.T) {
	h := NewHealthServer()
	mux := http.NewServeMux()
	h.Register(mux)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if code := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d", code)
	}

	h.SetReady(true)
	if code := get("/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after ready = %d", code)
	}

	h.SetReady(false)
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after unready = %d", code)
	}
}
