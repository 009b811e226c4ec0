package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/logging"
)

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	s := New(cfg, logging.Discard())
	s.Router().HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("middleware chain should set X-Request-ID")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := New(config.Default(), logging.Discard())
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
