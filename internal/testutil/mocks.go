package testutil

import (
	"bytes"
	"context"
	"sync"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/authority"
	"3tcapital/ms_emision_electronica/internal/core/document"
	"3tcapital/ms_emision_electronica/internal/core/notification"
	"3tcapital/ms_emision_electronica/internal/core/receipt"
	"3tcapital/ms_emision_electronica/internal/core/signing"
	"3tcapital/ms_emision_electronica/internal/core/storage"
)

// MockAuthority is a mock implementation of authority.Client. Without functions set it
// accepts every document and authorizes it at AuthorizedAt.
type MockAuthority struct {
	SubmitForValidationFunc  func(ctx context.Context, env document.Environment, signed []byte) (authority.ValidationResult, error)
	RequestAuthorizationFunc func(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error)
	FetchStatusFunc          func(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error)

	AuthorizedAt time.Time

	mu    sync.Mutex
	calls []string
}

var _ authority.Client = (*MockAuthority)(nil)

// SubmitForValidation calls the mock function if set, otherwise accepts.
func (m *MockAuthority) SubmitForValidation(ctx context.Context, env document.Environment, signed []byte) (authority.ValidationResult, error) {
	m.record("validate")
	if m.SubmitForValidationFunc != nil {
		return m.SubmitForValidationFunc(ctx, env, signed)
	}
	return authority.ValidationResult{Accepted: true}, nil
}

// RequestAuthorization calls the mock function if set, otherwise authorizes.
func (m *MockAuthority) RequestAuthorization(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
	m.record("authorize")
	if m.RequestAuthorizationFunc != nil {
		return m.RequestAuthorizationFunc(ctx, env, accessCode)
	}
	return m.authorized(accessCode), nil
}

// FetchStatus calls the mock function if set, otherwise authorizes.
func (m *MockAuthority) FetchStatus(ctx context.Context, env document.Environment, accessCode string) (authority.AuthorizationResult, error) {
	m.record("status")
	if m.FetchStatusFunc != nil {
		return m.FetchStatusFunc(ctx, env, accessCode)
	}
	return m.authorized(accessCode), nil
}

// Calls returns the operations invoked so far, in order.
func (m *MockAuthority) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockAuthority) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
}

func (m *MockAuthority) authorized(accessCode string) authority.AuthorizationResult {
	at := m.AuthorizedAt
	if at.IsZero() {
		at = time.Date(2025, 1, 15, 15, 31, 0, 0, time.UTC)
	}
	return authority.AuthorizationResult{Status: authority.StatusAuthorized, AccessCode: accessCode, AuthorizedAt: &at}
}

// MockSigner is a mock implementation of signing.Signer. Without SignFunc it appends a
// marker element to the document.
type MockSigner struct {
	SignFunc func(ctx context.Context, doc []byte, certificate []byte, passphrase string) ([]byte, error)
}

var _ signing.Signer = (*MockSigner)(nil)

// Sign calls the mock function if set.
func (m *MockSigner) Sign(ctx context.Context, doc []byte, certificate []byte, passphrase string) ([]byte, error) {
	if m.SignFunc != nil {
		return m.SignFunc(ctx, doc, certificate, passphrase)
	}
	return append(append([]byte(nil), doc...), []byte("<!--signed-->")...), nil
}

// MockRenderer is a mock implementation of receipt.Renderer.
type MockRenderer struct {
	RenderFunc func(doc *document.Document, company *document.Company) ([]byte, error)
}

var _ receipt.Renderer = (*MockRenderer)(nil)

// Render calls the mock function if set, otherwise returns a stub PDF.
func (m *MockRenderer) Render(doc *document.Document, company *document.Company) ([]byte, error) {
	if m.RenderFunc != nil {
		return m.RenderFunc(doc, company)
	}
	return []byte("%PDF-1.3 " + doc.AccessCode), nil
}

// MockNotifier is a mock implementation of notification.Notifier that keeps sent messages.
type MockNotifier struct {
	SendFunc func(ctx context.Context, msg notification.Message) error

	mu   sync.Mutex
	sent []notification.Message
}

var _ notification.Notifier = (*MockNotifier)(nil)

// Send calls the mock function if set and records the message when it succeeds.
func (m *MockNotifier) Send(ctx context.Context, msg notification.Message) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns the delivered messages.
func (m *MockNotifier) Sent() []notification.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.Message(nil), m.sent...)
}

// MemBlobStore is an in-memory storage.BlobStore.
type MemBlobStore struct {
	PutFunc func(ctx context.Context, key, contentType string, data []byte) error

	mu      sync.Mutex
	objects map[string][]byte
}

var _ storage.BlobStore = (*MemBlobStore)(nil)

// NewMemBlobStore creates an empty store.
func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{objects: make(map[string][]byte)}
}

// Put stores data under key.
func (m *MemBlobStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if m.PutFunc != nil {
		if err := m.PutFunc(ctx, key, contentType, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
	return nil
}

// Get returns the object at key or storage.ErrObjectNotFound.
func (m *MemBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

// URL returns a fake download link.
func (m *MemBlobStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

// Keys returns the stored keys.
func (m *MemBlobStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
