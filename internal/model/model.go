package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Namespace names the default per-client memory partitions. Dynamic
// compartment namespaces ("compartment-<id>") exist alongside these.
const (
	NamespaceConversations = "conversations"
	NamespaceThinking      = "thinking"
	NamespaceLongterm      = "longterm"
	NamespaceProjects      = "projects"
	NamespaceSession       = "session"
	NamespaceCompartments  = "compartments"
)

// compartmentPrefix marks dynamic per-compartment namespaces.
const compartmentPrefix = "compartment-"

// DefaultNamespaces returns the built-in namespace set in stable order.
func DefaultNamespaces() []string {
	return []string{
		NamespaceConversations,
		NamespaceThinking,
		NamespaceLongterm,
		NamespaceProjects,
		NamespaceSession,
		NamespaceCompartments,
	}
}

// IsDefaultNamespace reports whether ns is one of the built-in namespaces.
func IsDefaultNamespace(ns string) bool {
	switch ns {
	case NamespaceConversations, NamespaceThinking, NamespaceLongterm,
		NamespaceProjects, NamespaceSession, NamespaceCompartments:
		return true
	}
	return false
}

// IsCompartmentNamespace reports whether ns is a dynamic compartment
// namespace of the form "compartment-<id>".
func IsCompartmentNamespace(ns string) bool {
	return strings.HasPrefix(ns, compartmentPrefix) && len(ns) > len(compartmentPrefix)
}

// CompartmentNamespace builds the namespace backing a compartment.
func CompartmentNamespace(compartmentID string) string {
	return compartmentPrefix + compartmentID
}

// CompartmentIDFromNamespace extracts the compartment id, if ns is a
// compartment namespace.
func CompartmentIDFromNamespace(ns string) (string, bool) {
	if !IsCompartmentNamespace(ns) {
		return "", false
	}
	return ns[len(compartmentPrefix):], true
}

// Category classifies a structured memory.
type Category string

const (
	CategoryPersonal    Category = "personal"
	CategoryProjects    Category = "projects"
	CategoryFacts       Category = "facts"
	CategoryPreferences Category = "preferences"
	CategorySession     Category = "session"
	CategoryPrivate     Category = "private"
)

// Categories returns all categories in stable display order.
func Categories() []Category {
	return []Category{
		CategoryPersonal,
		CategoryProjects,
		CategoryFacts,
		CategoryPreferences,
		CategorySession,
		CategoryPrivate,
	}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	switch c {
	case CategoryPersonal, CategoryProjects, CategoryFacts,
		CategoryPreferences, CategorySession, CategoryPrivate:
		return c, true
	}
	return "", false
}

// DefaultImportance returns the importance assigned to a category when the
// caller does not override it.
func (c Category) DefaultImportance() int {
	switch c {
	case CategoryPersonal:
		return 5
	case CategoryProjects, CategoryPreferences:
		return 4
	case CategoryFacts, CategoryPrivate:
		return 3
	default:
		return 2
	}
}

// Title renders the category as a digest section heading.
func (c Category) Title() string {
	if c == "" {
		return ""
	}
	s := string(c)
	return strings.ToUpper(s[:1]) + s[1:]
}

// MinImportance and MaxImportance bound the importance scale.
const (
	MinImportance = 1
	MaxImportance = 5
)

// SearchMode tags how a search result set was ranked.
type SearchMode string

const (
	ModeVector  SearchMode = "vector"
	ModeLexical SearchMode = "lexical"
)

// Metadata keys written by the service.
const (
	MetaTimestamp  = "timestamp"
	MetaClientID   = "client_id"
	MetaCategory   = "category"
	MetaImportance = "importance"
	MetaTags       = "tags"
	MetaKeyID      = "key_id"
	MetaPrivate    = "private"
	MetaKey        = "key"
)

// Record is one stored memory. A record belongs to exactly one namespace;
// its id is immutable once assigned.
type Record struct {
	// ID is unique within (client, namespace).
	ID string `json:"id"`

	// Content is the memory text. For private memories this holds the
	// base64 ciphertext; the plaintext is never persisted.
	Content string `json:"content"`

	// Metadata carries at minimum "timestamp" and "client_id". Structured
	// memories add "category", "importance", and "tags".
	Metadata Metadata `json:"metadata"`

	// Embedding is the dense vector for the content when an embedding
	// provider was available at write time. The vector index is a derived
	// view of these and is rebuilt from them on mismatch.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Timestamp parses the record's metadata timestamp; zero time when absent
// or malformed.
func (r *Record) Timestamp() time.Time {
	ts := r.Metadata.GetString(MetaTimestamp)
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Category returns the structured-memory category, or "" for plain records.
func (r *Record) Category() Category {
	c, ok := ParseCategory(r.Metadata.GetString(MetaCategory))
	if !ok {
		return ""
	}
	return c
}

// Importance returns the structured-memory importance, defaulting to the
// scale minimum for plain records.
func (r *Record) Importance() int {
	if n, ok := r.Metadata.GetInt(MetaImportance); ok {
		return n
	}
	return MinImportance
}

// Tags returns the structured-memory tags, if any.
func (r *Record) Tags() []string {
	list, ok := r.Metadata[MetaTags].AsList()
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.AsString(); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// Clone returns a deep copy that callers may mutate freely.
func (r *Record) Clone() Record {
	out := Record{ID: r.ID, Content: r.Content, Metadata: r.Metadata.Clone()}
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	return out
}

// TimestampLayout is the metadata timestamp layout. RFC3339 on UTC keeps
// lexicographic and chronological order aligned.
const TimestampLayout = time.RFC3339

// FormatTimestamp renders t for storage in metadata.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NewMemoryID builds a structured-memory id of the form
// <category>-<unix-seconds>-<8 hex>. ParseMemoryID inverts it.
func NewMemoryID(category Category, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", category, now.Unix(), suffix)
}

// ParseMemoryID splits a structured-memory id into its category and
// creation time.
func ParseMemoryID(id string) (Category, time.Time, error) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 {
		return "", time.Time{}, fmt.Errorf("malformed memory id: %s", id)
	}
	category, ok := ParseCategory(parts[0])
	if !ok {
		return "", time.Time{}, fmt.Errorf("memory id %s: unknown category %q", id, parts[0])
	}
	epoch, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("memory id %s: bad epoch: %w", id, err)
	}
	return category, time.Unix(epoch, 0).UTC(), nil
}

// Compartment is a user-named memory bucket backing one dynamic namespace.
type Compartment struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the compartment passed its expiry.
func (c *Compartment) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Namespace returns the dynamic namespace holding this compartment's
// contents.
func (c *Compartment) Namespace() string {
	return CompartmentNamespace(c.ID)
}

// SessionEntry is one element of the per-client session ring buffer.
type SessionEntry struct {
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationTurn is one exchange in a conversation to be memorized.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JoinTurns renders turns as newline-separated "role: content" lines, the
// stored form of a conversation memory.
func JoinTurns(turns []ConversationTurn) string {
	lines := make([]string, len(turns))
	for i, turn := range turns {
		lines[i] = turn.Role + ": " + turn.Content
	}
	return strings.Join(lines, "\n")
}
