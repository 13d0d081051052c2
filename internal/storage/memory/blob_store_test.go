package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "stream/page.jpg", "image/jpeg", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://stream/page.jpg" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	got, err := store.ReadObject("stream/page.jpg")
	if err != nil {
		t.Fatalf("ReadObject() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	if store.Writes() != 1 {
		t.Fatalf("expected one write, got %d", store.Writes())
	}
}

func TestBlobStoreReadMissing(t *testing.T) {
	t.Parallel()

	if _, err := NewBlobStore().ReadObject("nope"); err == nil {
		t.Fatal("expected error for missing object")
	}
}
