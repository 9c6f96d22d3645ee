package memory

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
)

// PrivateEntry is the listing view of a private memory: the plaintext is
// only materialized by GetPrivate.
type PrivateEntry struct {
	ID       string         `json:"id"`
	Metadata model.Metadata `json:"metadata"`
}

// AddPrivate encrypts content under the client's primary key and stores
// only the ciphertext. The plaintext never reaches disk.
func (s *Service) AddPrivate(ctx context.Context, content string) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	if content == "" {
		return "", fault.Invalid("content must not be empty")
	}

	keyID, ciphertext, err := s.box.Encrypt([]byte(content))
	if err != nil {
		return "", err
	}
	md := model.Metadata{
		model.MetaCategory:   model.StringValue(string(model.CategoryPrivate)),
		model.MetaImportance: model.IntValue(model.CategoryPrivate.DefaultImportance()),
		model.MetaPrivate:    model.BoolValue(true),
		model.MetaKeyID:      model.StringValue(keyID),
	}
	id := model.NewMemoryID(model.CategoryPrivate, time.Now())

	// Stored without a vector: embedding ciphertext would leak nothing
	// useful and the plaintext must not leave this function.
	mu := s.nsLock(structuredNamespace)
	mu.Lock()
	defer mu.Unlock()
	return s.store.Add(structuredNamespace, id, base64.StdEncoding.EncodeToString(ciphertext), md, nil)
}

// ListPrivate returns the id and metadata of every private memory.
func (s *Service) ListPrivate(ctx context.Context) ([]PrivateEntry, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}

	mu := s.nsLock(structuredNamespace)
	mu.RLock()
	defer mu.RUnlock()

	var out []PrivateEntry
	for _, r := range s.store.All(structuredNamespace) {
		if r.Category() != model.CategoryPrivate {
			continue
		}
		out = append(out, PrivateEntry{ID: r.ID, Metadata: r.Metadata})
	}
	return out, nil
}

// GetPrivate decrypts a private memory. allowEmergency additionally
// permits recovery through the emergency key set.
func (s *Service) GetPrivate(ctx context.Context, id string, allowEmergency bool) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}

	mu := s.nsLock(structuredNamespace)
	mu.RLock()
	r := s.store.Get(structuredNamespace, id)
	mu.RUnlock()

	if r == nil || r.Category() != model.CategoryPrivate {
		return "", fault.NotFound("private memory %s not found", id)
	}
	return s.decryptRecordEmergency(r, allowEmergency)
}

// DeletePrivate removes a private memory.
func (s *Service) DeletePrivate(ctx context.Context, id string) (bool, error) {
	if err := fault.FromContext(ctx); err != nil {
		return false, err
	}

	mu := s.nsLock(structuredNamespace)
	mu.Lock()
	defer mu.Unlock()

	r := s.store.Get(structuredNamespace, id)
	if r == nil || r.Category() != model.CategoryPrivate {
		return false, nil
	}
	return s.store.Delete(structuredNamespace, id)
}

func (s *Service) decryptRecord(r *model.Record) (string, error) {
	return s.decryptRecordEmergency(r, false)
}

func (s *Service) decryptRecordEmergency(r *model.Record, allowEmergency bool) (string, error) {
	keyID := r.Metadata.GetString(model.MetaKeyID)
	if keyID == "" {
		return "", fault.Denied("private memory %s has no key id", r.ID)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return "", fault.Denied("private memory %s is not valid ciphertext", r.ID)
	}
	plain, err := s.box.Decrypt(keyID, ciphertext, allowEmergency)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
