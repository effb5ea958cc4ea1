package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	go2fa "github.com/MrEthical07/go2fa"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := bearerToken(tc.header)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRequireBearerWithoutEngine(t *testing.T) {
	var gotErr error
	called := false
	h := RequireBearer(nil, func(w http.ResponseWriter, _ *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusTeapot)
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Fatal("next handler must not run")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected custom error handler status, got %d", rec.Code)
	}
	if gotErr != go2fa.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for nil engine, got %v", gotErr)
	}
}

func TestPlainErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	plainError(rec, nil, go2fa.ErrUnavailable)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	plainError(rec, nil, ErrMissingBearer)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPrincipalFromContextEmpty(t *testing.T) {
	if _, ok := PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatal("expected no principal")
	}
}

func TestAccessLogOmitsAuthorization(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := AccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusAccepted) {
		t.Fatalf("expected status field 202, got %v", fields["status"])
	}
	if fields["path"] != "/auth/login" {
		t.Fatalf("expected path field, got %v", fields["path"])
	}
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "Bearer secret-token" {
			t.Fatalf("field %s leaked the authorization header", k)
		}
	}
}
