// Package vector implements the per-(client, namespace) flat L2 index.
// Slots map one-to-one onto store records by id; the index is a derived
// view and is rebuilt from the store when its persisted form is missing
// or out of step.
package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ckoons/engram/internal/atomicfile"
)

// File layout: magic, version, dimension, count, then count*dim float32
// little-endian. The id<->slot mapping lives in the sibling .meta.json.
var idxMagic = [4]byte{'E', 'I', 'D', 'X'}

const idxVersion = 1

// Match is one search hit. Distance is squared L2; Relevance is
// 1/(1+Distance), in (0, 1] with higher better.
type Match struct {
	ID        string
	Distance  float32
	Relevance float64
}

// Relevance converts a squared L2 distance into the (0, 1] score
// surfaced to callers.
func Relevance(distance float32) float64 {
	return 1 / (1 + float64(distance))
}

type meta struct {
	Dimension int      `json:"dimension"`
	IDs       []string `json:"ids"`
}

// Index is a flat index over fixed-dimension vectors. Safe for concurrent
// use.
type Index struct {
	mu       sync.RWMutex
	dim      int
	ids      []string       // slot -> id
	slots    map[string]int // id -> slot
	vecs     [][]float32    // slot -> vector
	idxPath  string
	metaPath string
}

// Paths returns the index and metadata file paths for a namespace index.
func Paths(dataDir, clientID, namespace string) (idxPath, metaPath string) {
	base := filepath.Join(dataDir, "vector", clientID+"-"+namespace)
	return base + ".idx", base + ".meta.json"
}

// Open loads the persisted index for (clientID, namespace), or returns an
// empty index when no consistent snapshot exists (dimension change,
// missing file, id count mismatch). Callers rebuild from the store in
// that case.
func Open(dataDir, clientID, namespace string, dim int) (*Index, error) {
	idxPath, metaPath := Paths(dataDir, clientID, namespace)
	x := &Index{
		dim:      dim,
		slots:    map[string]int{},
		idxPath:  idxPath,
		metaPath: metaPath,
	}

	data, err := os.ReadFile(idxPath)
	if errors.Is(err, os.ErrNotExist) {
		return x, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", idxPath, err)
	}

	var m meta
	if err := atomicfile.ReadJSON(metaPath, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return x, nil
		}
		return nil, fmt.Errorf("read index meta %s: %w", metaPath, err)
	}

	vecs, fileDim, err := decodeVectors(data)
	if err != nil || fileDim != dim || m.Dimension != dim || len(m.IDs) != len(vecs) {
		// Stale or corrupt snapshot; start empty and let the owner rebuild.
		return x, nil
	}

	x.vecs = vecs
	x.ids = m.IDs
	for slot, id := range m.IDs {
		x.slots[id] = slot
	}
	return x, nil
}

// Dimension returns the fixed vector dimension.
func (x *Index) Dimension() int { return x.dim }

// Len returns the number of indexed vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Add upserts the vector for id.
func (x *Index) Add(id string, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("vector dimension %d, index dimension %d", len(vec), x.dim)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)

	x.mu.Lock()
	defer x.mu.Unlock()
	if slot, ok := x.slots[id]; ok {
		x.vecs[slot] = cp
		return nil
	}
	x.slots[id] = len(x.ids)
	x.ids = append(x.ids, id)
	x.vecs = append(x.vecs, cp)
	return nil
}

// Remove drops the vector for id, if present. The vacated slot is filled
// by the last entry so slots stay dense.
func (x *Index) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	slot, ok := x.slots[id]
	if !ok {
		return false
	}
	last := len(x.ids) - 1
	if slot != last {
		x.ids[slot] = x.ids[last]
		x.vecs[slot] = x.vecs[last]
		x.slots[x.ids[slot]] = slot
	}
	x.ids = x.ids[:last]
	x.vecs = x.vecs[:last]
	delete(x.slots, id)
	return true
}

// Clear drops every vector.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = nil
	x.vecs = nil
	x.slots = map[string]int{}
}

// Search returns the k nearest vectors to query by squared L2 distance,
// ties broken by id so results are deterministic. k larger than the
// index clamps; k <= 0 returns nothing.
func (x *Index) Search(query []float32, k int) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if k <= 0 || len(x.ids) == 0 || len(query) != x.dim {
		return nil
	}
	matches := make([]Match, len(x.ids))
	for slot, vec := range x.vecs {
		d := sqL2(query, vec)
		matches[slot] = Match{ID: x.ids[slot], Distance: d, Relevance: Relevance(d)}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches
}

// Rebuild replaces the whole index from parallel id/vector slices,
// skipping entries of the wrong dimension.
func (x *Index) Rebuild(ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("rebuild length mismatch: %d ids, %d vectors", len(ids), len(vecs))
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	x.ids = nil
	x.vecs = nil
	x.slots = map[string]int{}
	for i, id := range ids {
		if len(vecs[i]) != x.dim {
			continue
		}
		cp := make([]float32, len(vecs[i]))
		copy(cp, vecs[i])
		x.slots[id] = len(x.ids)
		x.ids = append(x.ids, id)
		x.vecs = append(x.vecs, cp)
	}
	return nil
}

// Persist writes the vector file and its id mapping atomically.
func (x *Index) Persist() error {
	x.mu.RLock()
	data := encodeVectors(x.dim, x.vecs)
	m := meta{Dimension: x.dim, IDs: append([]string(nil), x.ids...)}
	x.mu.RUnlock()

	if err := atomicfile.WriteFile(x.idxPath, data, 0o644); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	if err := atomicfile.WriteJSON(x.metaPath, &m, 0o644); err != nil {
		return fmt.Errorf("persist index meta: %w", err)
	}
	return nil
}

func encodeVectors(dim int, vecs [][]float32) []byte {
	var buf bytes.Buffer
	buf.Write(idxMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(idxVersion))
	binary.Write(&buf, binary.LittleEndian, uint32(dim))
	binary.Write(&buf, binary.LittleEndian, uint32(len(vecs)))
	for _, vec := range vecs {
		binary.Write(&buf, binary.LittleEndian, vec)
	}
	return buf.Bytes()
}

func decodeVectors(data []byte) ([][]float32, int, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != idxMagic {
		return nil, 0, fmt.Errorf("bad index magic")
	}
	var version, dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, err
	}
	if version != idxVersion {
		return nil, 0, fmt.Errorf("unsupported index version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, 0, err
	}
	vecs := make([][]float32, count)
	for i := range vecs {
		vecs[i] = make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, &vecs[i]); err != nil {
			return nil, 0, fmt.Errorf("truncated index payload: %w", err)
		}
	}
	return vecs, int(dim), nil
}

func sqL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
