package web

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cjeanneret/FlipGo/internal/logic/clock"
)

func TestServerMux_Routes(t *testing.T) {
	c := &fakeClock{status: clock.Status{Homed: true}}
	s := NewServer(":0", NewHub(), c, Auth{})
	mux := s.Mux()

	cases := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/status", "", http.StatusOK},
		{http.MethodPost, "/time", `{"hour":3,"minute":4}`, http.StatusOK},
		{http.MethodPost, "/resync", "", http.StatusOK},
		{http.MethodGet, "/time", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestServerMux_EmbeddedIndex(t *testing.T) {
	s := NewServer(":0", NewHub(), &fakeClock{}, Auth{})
	w := httptest.NewRecorder()
	s.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(w.Body.String(), "FlipGo") {
		t.Error("embedded index.html not served")
	}
}

func TestServerMux_AuthOnMutatingRoutes(t *testing.T) {
	c := &fakeClock{}
	s := NewServer(":0", NewHub(), c, testAuth(t))
	mux := s.Mux()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/time", bytes.NewReader(timeJSON(1, 1))))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST /time without credentials: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(c.sets) != 0 {
		t.Error("unauthenticated request reached the clock")
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /status should stay public, status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/resync", nil)
	req.SetBasicAuth("admin", "s3cret")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("POST /resync with credentials: status = %d, want %d", w.Code, http.StatusOK)
	}
}
