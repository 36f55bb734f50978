package httpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ipad,ipad,10.0.0.2\n"))
	}))
	defer srv.Close()

	body, err := Fetch(context.Background(), srv.URL+"/devices.txt")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != "ipad,ipad,10.0.0.2\n" {
		t.Errorf("unexpected body %q", body)
	}

	_, err = Fetch(context.Background(), srv.URL+"/missing")
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if serr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", serr.StatusCode)
	}
}

func TestFetchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Fetch(ctx, "http://127.0.0.1:1/"); err == nil {
		t.Error("expected error for canceled context")
	}
}
