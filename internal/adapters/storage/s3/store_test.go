package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/storage"
)

// fakeS3 serves path-style object requests from memory.
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[path] = data
		f.contentTypes[path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", f.contentTypes[path])
		w.Write(data)
	case http.MethodHead:
		if path == "artifacts" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewStore(context.Background(), Config{
		Bucket:          "artifacts",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	}, server.Client())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, fake
}

func TestStore_PutGet(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	key := storage.SignedXMLKey("tenant-1", "invoice", "1501202501")

	if err := store.Put(ctx, key, storage.ContentTypeXML, []byte("<factura/>")); err != nil {
		t.Fatalf("put: %v", err)
	}

	fake.mu.Lock()
	stored := string(fake.objects["artifacts/"+key])
	contentType := fake.contentTypes["artifacts/"+key]
	fake.mu.Unlock()
	if stored != "<factura/>" {
		t.Errorf("expected object stored under bucket/key, got %q", stored)
	}
	if contentType != storage.ContentTypeXML {
		t.Errorf("expected content type %s, got %s", storage.ContentTypeXML, contentType)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "<factura/>" {
		t.Errorf("expected round trip, got %q", data)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "tenant-1/invoice/missing.xml")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestStore_URL(t *testing.T) {
	store, _ := newTestStore(t)

	url, err := store.URL(context.Background(), "tenant-1/invoice/1501202501.pdf", 15*time.Minute)
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if !strings.Contains(url, "/artifacts/tenant-1/invoice/1501202501.pdf") {
		t.Errorf("expected path-style object URL, got %s", url)
	}
	if !strings.Contains(url, "X-Amz-Expires=900") || !strings.Contains(url, "X-Amz-Signature=") {
		t.Errorf("expected presigned query, got %s", url)
	}
}

func TestStore_Check(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Check(context.Background()); err != nil {
		t.Errorf("expected bucket check to pass, got %v", err)
	}
	if store.Name() != "storage" {
		t.Errorf("unexpected checker name %s", store.Name())
	}
}

func TestNewStore_RequiresBucket(t *testing.T) {
	if _, err := NewStore(context.Background(), Config{Region: "us-east-1"}, nil); err == nil {
		t.Fatal("expected error without bucket")
	}
}
