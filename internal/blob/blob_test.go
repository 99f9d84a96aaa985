package blob

import (
	"context"
	"testing"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GCSStore)(nil)
)

func TestMemoryStorePutCopiesPayload(t *testing.T) {
	s := NewMemory()
	payload := []byte("<html>invoice</html>")

	url, err := s.Put(context.Background(), "invoices/ABC123.html", payload, "text/html")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "memory://invoices/ABC123.html" {
		t.Fatalf("unexpected url %q", url)
	}

	payload[0] = 'X'
	got, ok := s.Get("invoices/ABC123.html")
	if !ok || string(got) != "<html>invoice</html>" {
		t.Fatalf("expected stored copy, got %q", got)
	}
}

func TestNewGCSRequiresBucket(t *testing.T) {
	if _, err := NewGCS(context.Background(), " ", ""); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
