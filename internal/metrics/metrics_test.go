package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterAndScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PostingsWritten.Add(3)
	m.BlocksDecoded.WithLabelValues("docs").Inc()
	m.CorruptErrors.WithLabelValues("values").Inc()

	if got := testutil.ToFloat64(m.PostingsWritten); got != 3 {
		t.Errorf("postings written = %v, want 3", got)
	}

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"kestrel_postings_written_total 3",
		`kestrel_blocks_decoded_total{kind="docs"} 1`,
		`kestrel_corrupt_errors_total{store="values"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestDefault(t *testing.T) {
	m := Default(nil)
	if m == nil {
		t.Fatal("Default(nil) returned nil")
	}
	// Unregistered collectors still accept updates.
	m.CacheHits.Inc()

	own := New(nil)
	if Default(own) != own {
		t.Error("Default should return the given metrics")
	}
}

func TestDoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	New(reg)
}
