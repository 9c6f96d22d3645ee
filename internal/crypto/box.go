// Package crypto implements the per-client key box backing private
// memories. Content is sealed with AES-256-GCM under a fresh data key;
// the data key is wrapped under the current primary key and under every
// emergency key, so a record stays recoverable after primary rotation and
// under emergency access without re-encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ckoons/engram/internal/atomicfile"
	"github.com/ckoons/engram/internal/fault"
)

// KeyKind distinguishes encryption keys from recovery keys.
type KeyKind string

const (
	KindPrimary   KeyKind = "primary"
	KindEmergency KeyKind = "emergency"
)

const keyBytes = 32 // AES-256

// Key is one entry in the keystore. Material never leaves the package.
type Key struct {
	ID        string    `msgpack:"id"`
	Kind      KeyKind   `msgpack:"kind"`
	Material  []byte    `msgpack:"material"`
	CreatedAt time.Time `msgpack:"created_at"`
	Retired   bool      `msgpack:"retired"`
}

// KeyInfo is the public view of a Key.
type KeyInfo struct {
	ID        string    `json:"key_id"`
	Kind      KeyKind   `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Retired   bool      `json:"retired"`
}

// keystore is the msgpack-encoded on-disk form of a Box.
type keystore struct {
	ClientID  string `msgpack:"client_id"`
	PrimaryID string `msgpack:"primary_id"`
	Keys      []*Key `msgpack:"keys"`
}

// envelope is the msgpack-encoded ciphertext produced by Encrypt.
type envelope struct {
	Nonce []byte `msgpack:"nonce"`
	Body  []byte `msgpack:"body"`
	Wraps []wrap `msgpack:"wraps"`
}

// wrap is one copy of the data key sealed under a keystore key.
type wrap struct {
	KeyID string `msgpack:"key_id"`
	Nonce []byte `msgpack:"nonce"`
	DK    []byte `msgpack:"dk"`
}

// Box holds one client's key set.
type Box struct {
	mu        sync.Mutex
	path      string
	clientID  string
	primaryID string
	keys      map[string]*Key
}

// Open loads the client's keystore from <dataDir>/keys/<clientID>.keys,
// bootstrapping a fresh primary and emergency key on first use.
func Open(dataDir, clientID string) (*Box, error) {
	b := &Box{
		path:     filepath.Join(dataDir, "keys", clientID+".keys"),
		clientID: clientID,
		keys:     map[string]*Key{},
	}

	data, err := os.ReadFile(b.path)
	switch {
	case err == nil:
		var ks keystore
		if err := msgpack.Unmarshal(data, &ks); err != nil {
			return nil, fault.Internal(err, "keystore %s is corrupt", b.path)
		}
		b.primaryID = ks.PrimaryID
		for _, k := range ks.Keys {
			b.keys[k.ID] = k
		}
		if _, ok := b.keys[b.primaryID]; !ok {
			return nil, fault.Internal(nil, "keystore %s names a missing primary key", b.path)
		}
		return b, nil
	case errors.Is(err, os.ErrNotExist):
		if _, err := b.generateLocked(KindPrimary); err != nil {
			return nil, err
		}
		if _, err := b.generateLocked(KindEmergency); err != nil {
			return nil, err
		}
		if err := b.persistLocked(); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fault.Storage(err, "read keystore %s", b.path)
	}
}

// generateLocked mints a key and installs it; primary keys take over as
// the active primary. Caller persists.
func (b *Box) generateLocked(kind KeyKind) (string, error) {
	material := make([]byte, keyBytes)
	if _, err := rand.Read(material); err != nil {
		return "", fault.Internal(err, "generate key material")
	}
	k := &Key{
		ID:        uuid.NewString(),
		Kind:      kind,
		Material:  material,
		CreatedAt: time.Now().UTC(),
	}
	b.keys[k.ID] = k
	if kind == KindPrimary {
		b.primaryID = k.ID
	}
	return k.ID, nil
}

func (b *Box) persistLocked() error {
	ks := keystore{ClientID: b.clientID, PrimaryID: b.primaryID}
	for _, k := range b.keys {
		ks.Keys = append(ks.Keys, k)
	}
	sort.Slice(ks.Keys, func(i, j int) bool { return ks.Keys[i].ID < ks.Keys[j].ID })

	data, err := msgpack.Marshal(&ks)
	if err != nil {
		return fault.Internal(err, "encode keystore")
	}
	if err := atomicfile.WriteFile(b.path, data, 0o600); err != nil {
		return fault.Storage(err, "write keystore %s", b.path)
	}
	return nil
}

// Encrypt seals plaintext under a fresh data key and returns the id of
// the primary key that wraps it, plus the opaque ciphertext envelope.
func (b *Box) Encrypt(plaintext []byte) (string, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dk := make([]byte, keyBytes)
	if _, err := rand.Read(dk); err != nil {
		return "", nil, fault.Internal(err, "generate data key")
	}
	nonce, body, err := seal(dk, plaintext)
	if err != nil {
		return "", nil, err
	}

	env := envelope{Nonce: nonce, Body: body}
	wrapUnder := func(k *Key) error {
		wn, wb, err := seal(k.Material, dk)
		if err != nil {
			return err
		}
		env.Wraps = append(env.Wraps, wrap{KeyID: k.ID, Nonce: wn, DK: wb})
		return nil
	}

	primary := b.keys[b.primaryID]
	if primary == nil {
		return "", nil, fault.Internal(nil, "no primary key")
	}
	if err := wrapUnder(primary); err != nil {
		return "", nil, err
	}
	for _, id := range b.sortedKeyIDs() {
		k := b.keys[id]
		if k.Kind == KindEmergency {
			if err := wrapUnder(k); err != nil {
				return "", nil, err
			}
		}
	}

	ct, err := msgpack.Marshal(&env)
	if err != nil {
		return "", nil, fault.Internal(err, "encode ciphertext envelope")
	}
	return primary.ID, ct, nil
}

// Decrypt opens a ciphertext produced by Encrypt. keyID names the wrap to
// use; with allowEmergency the emergency wraps are tried as well, so a
// record survives loss of its original key.
func (b *Box) Decrypt(keyID string, ciphertext []byte, allowEmergency bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var env envelope
	if err := msgpack.Unmarshal(ciphertext, &env); err != nil {
		return nil, fault.Denied("ciphertext is not a valid envelope")
	}

	if plain, err := b.openWithLocked(keyID, &env, false); err == nil {
		return plain, nil
	} else if !allowEmergency {
		return nil, err
	}

	for _, id := range b.sortedKeyIDs() {
		k := b.keys[id]
		if k.Kind != KindEmergency {
			continue
		}
		if plain, err := b.openWithLocked(k.ID, &env, true); err == nil {
			return plain, nil
		}
	}
	return nil, fault.Denied("decryption failed with all permitted keys")
}

// openWithLocked unwraps the data key under the named key and opens the
// body. asEmergency bypasses the emergency-use guard.
func (b *Box) openWithLocked(keyID string, env *envelope, asEmergency bool) ([]byte, error) {
	k, ok := b.keys[keyID]
	if !ok {
		return nil, fault.NotFound("unknown key: %s", keyID)
	}
	if k.Kind == KindEmergency && !asEmergency {
		return nil, fault.Denied("key %s is an emergency key", keyID)
	}
	for _, w := range env.Wraps {
		if w.KeyID != keyID {
			continue
		}
		dk, err := open(k.Material, w.Nonce, w.DK)
		if err != nil {
			return nil, fault.Denied("ciphertext integrity check failed")
		}
		plain, err := open(dk, env.Nonce, env.Body)
		if err != nil {
			return nil, fault.Denied("ciphertext integrity check failed")
		}
		return plain, nil
	}
	return nil, fault.NotFound("ciphertext carries no wrap for key %s", keyID)
}

// RotatePrimary retires the current primary and installs a new one. Old
// ciphertexts stay decryptable through their original key id.
func (b *Box) RotatePrimary() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old := b.keys[b.primaryID]; old != nil {
		old.Retired = true
	}
	id, err := b.generateLocked(KindPrimary)
	if err != nil {
		return "", err
	}
	if err := b.persistLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// GenerateEmergency adds a recovery key. New encryptions wrap under it;
// existing ciphertexts are not rewritten.
func (b *Box) GenerateEmergency() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.generateLocked(KindEmergency)
	if err != nil {
		return "", err
	}
	if err := b.persistLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// PrimaryID returns the id of the active primary key.
func (b *Box) PrimaryID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primaryID
}

// ListKeys returns the public view of every key, sorted by creation time
// then id.
func (b *Box) ListKeys() []KeyInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := make([]KeyInfo, 0, len(b.keys))
	for _, k := range b.keys {
		infos = append(infos, KeyInfo{ID: k.ID, Kind: k.Kind, CreatedAt: k.CreatedAt, Retired: k.Retired})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// DeleteKey removes a key. The active primary cannot be deleted; rotate
// first. Returns false when the key does not exist.
func (b *Box) DeleteKey(keyID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if keyID == b.primaryID {
		return false, fault.Denied("cannot delete the active primary key")
	}
	if _, ok := b.keys[keyID]; !ok {
		return false, nil
	}
	delete(b.keys, keyID)
	if err := b.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Box) sortedKeyIDs() []string {
	ids := make([]string, 0, len(b.keys))
	for id := range b.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fault.Internal(err, "generate nonce")
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fault.Internal(err, "AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fault.Internal(err, "GCM")
	}
	return gcm, nil
}
