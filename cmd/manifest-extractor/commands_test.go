package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"manifest-extractor-go/pkg/handlers/api"
	"manifest-extractor-go/pkg/types"
)

type stubExtractor struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubExtractor) Extract(_ context.Context, url string) (types.Result, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	if strings.Contains(url, "missing") {
		return types.Result{Elapsed: time.Second}, types.ErrNotFound
	}
	return types.Result{ManifestURL: url + "/index.m3u8", Elapsed: 500 * time.Millisecond}, nil
}

func TestExtractAll(t *testing.T) {
	urls := []string{
		"https://a.example.com/e/1",
		"ftp://b.example.com/e/2",
		"https://c.example.com/missing",
		"https://d.example.com/e/4",
		"https://e.example.com/e/5",
	}
	ext := &stubExtractor{}
	results := extractAll(context.Background(), ext, urls, 2)

	if len(results) != len(urls) {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].Success || results[0].URL != urls[0]+"/index.m3u8" || results[0].Time != "0.50s" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Error != api.MsgInvalidURL {
		t.Errorf("results[1] = %+v", results[1])
	}
	if results[2].Success || results[2].Error != api.MsgNotFound {
		t.Errorf("results[2] = %+v", results[2])
	}
	if got := ext.peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	err := printResults(&buf, []api.Response{
		{Success: true, URL: "https://cdn.example.com/a.m3u8", Time: "0.10s"},
		{Error: api.MsgNotFound, Time: "2.00s"},
	})
	if err == nil || err.Error() != "1 of 2 urls failed" {
		t.Errorf("printResults() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first["success"] != true || first["url"] != "https://cdn.example.com/a.m3u8" {
		t.Errorf("first line = %v", first)
	}

	buf.Reset()
	if err := printResults(&buf, []api.Response{{Success: true, URL: "x"}}); err != nil {
		t.Errorf("all successes should not fail: %v", err)
	}
}

func TestRootCommand(t *testing.T) {
	cmd := root()
	names := map[string]bool{}
	for _, c := range cmd.Commands {
		names[c.Name] = true
	}
	if !names["serve"] || !names["extract"] {
		t.Errorf("commands = %v", names)
	}
	if cmd.Action == nil {
		t.Error("root command should serve by default")
	}
}
