package gcs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

func staticTokens(token string) *tokenSource {
	return &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
		return token, time.Now().Add(time.Hour), nil
	}}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Query().Get("alt") != "media" {
			t.Errorf("expected alt=media, got %q", r.URL.RawQuery)
		}
		switch r.URL.EscapedPath() {
		case "/storage/v1/b/tickets/o/batch%2F1.pdf":
			_, _ = w.Write([]byte("%PDF-1.4 ticket"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newClient(srv.Client(), "tickets", srv.URL, staticTokens("tok"))

	data, err := client.Download(context.Background(), "batch/1.pdf")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != "%PDF-1.4 ticket" {
		t.Fatalf("unexpected body %q", data)
	}

	_, err = client.Download(context.Background(), "batch/missing.pdf")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := client.Download(context.Background(), " "); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDownloadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newClient(srv.Client(), "tickets", srv.URL, staticTokens("tok"))
	_, err := client.Download(context.Background(), "a.pdf")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestDownloadRetriesServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case strings.HasSuffix(r.URL.Path, "/denied.pdf"):
			w.WriteHeader(http.StatusForbidden)
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	client := newClient(srv.Client(), "tickets", srv.URL, staticTokens("tok"))
	client.maxRetries = 2
	client.interval = time.Millisecond

	data, err := client.Download(context.Background(), "flaky.pdf")
	if err != nil || string(data) != "ok" {
		t.Fatalf("expected success after one retry, got %q %v", data, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two attempts, got %d", calls.Load())
	}

	calls.Store(10)
	_, err = client.Download(context.Background(), "denied.pdf")
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if calls.Load() != 11 {
		t.Fatalf("4xx must not be retried, calls=%d", calls.Load())
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/b/tickets/o" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	if err := newClient(srv.Client(), "tickets", srv.URL, staticTokens("tok")).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := newClient(srv.Client(), "other", srv.URL, staticTokens("tok")).Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestTokenSourceCachesUntilNearExpiry(t *testing.T) {
	var calls atomic.Int32
	ts := &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
		calls.Add(1)
		return "t", time.Now().Add(30 * time.Second), nil
	}}
	_, _ = ts.Token(context.Background())
	_, _ = ts.Token(context.Background())
	if calls.Load() != 2 {
		t.Fatalf("token expiring within a minute must be refetched, calls=%d", calls.Load())
	}

	calls.Store(0)
	ts = staticTokens("t")
	ts.fetch = func(context.Context) (string, time.Time, error) {
		calls.Add(1)
		return "t", time.Now().Add(time.Hour), nil
	}
	_, _ = ts.Token(context.Background())
	_, _ = ts.Token(context.Background())
	if calls.Load() != 1 {
		t.Fatalf("expected cached token, calls=%d", calls.Load())
	}
}

func TestServiceAccountTokenSourceSignsAssertion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		assertion := r.Form.Get("assertion")
		parsed, err := jwt.Parse(assertion, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}))
		if err != nil || !parsed.Valid {
			t.Errorf("invalid assertion: %v", err)
		}
		claims := parsed.Claims.(jwt.MapClaims)
		if claims["iss"] != "reader@example.iam.gserviceaccount.com" {
			t.Errorf("unexpected iss %v", claims["iss"])
		}
		_, _ = w.Write([]byte(`{"access_token":"sa-token","expires_in":3600}`))
	}))
	defer srv.Close()

	creds, _ := json.Marshal(map[string]string{
		"client_email": "reader@example.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
		"token_uri":    srv.URL,
	})
	ts, err := newServiceAccountTokenSource(srv.Client(), string(creds))
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	token, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != "sa-token" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestServiceAccountTokenSourceRejectsBadCredentials(t *testing.T) {
	if _, err := newServiceAccountTokenSource(http.DefaultClient, "{"); err == nil {
		t.Fatalf("expected json error")
	}
	if _, err := newServiceAccountTokenSource(http.DefaultClient, `{"client_email":"x"}`); err == nil ||
		!strings.Contains(err.Error(), "invalid service account") {
		t.Fatalf("expected invalid credentials error, got %v", err)
	}
}
