package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
)

func now() time.Time { return time.Now().UTC() }

// Compartment metadata lives as records in the compartments namespace:
// one record per compartment, record id = compartment id, content = name.
const (
	metaDescription = "description"
	metaActive      = "active"
	metaCreatedAt   = "created_at"
	metaExpiresAt   = "expires_at"
)

// loadCompartments rebuilds the in-memory compartment map from the
// compartments namespace on open.
func (s *Service) loadCompartments() error {
	for _, r := range s.store.All(model.NamespaceCompartments) {
		c := &model.Compartment{
			ID:          r.ID,
			Name:        r.Content,
			Description: r.Metadata.GetString(metaDescription),
		}
		if active, ok := r.Metadata.GetBool(metaActive); ok {
			c.Active = active
		}
		if ts := r.Metadata.GetString(metaCreatedAt); ts != "" {
			if t, err := time.Parse(model.TimestampLayout, ts); err == nil {
				c.CreatedAt = t
			}
		}
		if ts := r.Metadata.GetString(metaExpiresAt); ts != "" {
			if t, err := time.Parse(model.TimestampLayout, ts); err == nil {
				c.ExpiresAt = &t
			}
		}
		s.compartments[c.ID] = c
	}
	return nil
}

func (s *Service) compartment(id string) *model.Compartment {
	s.compMu.Lock()
	defer s.compMu.Unlock()
	return s.compartments[id]
}

// saveCompartment writes the compartment's record through the normal add
// path so it persists with the rest of the store.
func (s *Service) saveCompartment(ctx context.Context, c *model.Compartment) error {
	md := model.Metadata{
		metaDescription: model.StringValue(c.Description),
		metaActive:      model.BoolValue(c.Active),
		metaCreatedAt:   model.StringValue(model.FormatTimestamp(c.CreatedAt)),
	}
	if c.ExpiresAt != nil {
		md[metaExpiresAt] = model.StringValue(model.FormatTimestamp(*c.ExpiresAt))
	}
	_, err := s.add(ctx, c.ID, c.Name, model.NamespaceCompartments, md)
	return err
}

// CreateCompartment mints a new active compartment and its dynamic
// namespace.
func (s *Service) CreateCompartment(ctx context.Context, name, description string) (*model.Compartment, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fault.Invalid("compartment name must not be empty")
	}

	c := &model.Compartment{
		ID:          uuid.NewString()[:8],
		Name:        name,
		Description: description,
		CreatedAt:   now(),
		Active:      true,
	}
	if err := s.saveCompartment(ctx, c); err != nil {
		return nil, err
	}

	s.compMu.Lock()
	s.compartments[c.ID] = c
	s.compMu.Unlock()
	cp := *c
	return &cp, nil
}

// liveCompartment resolves an id to a non-expired compartment.
func (s *Service) liveCompartment(id string) (*model.Compartment, error) {
	c := s.compartment(id)
	if c == nil {
		return nil, fault.NotFound("compartment %s not found", id)
	}
	if c.Expired(now()) {
		return nil, fault.NotFound("compartment %s has expired", id)
	}
	return c, nil
}

// ActivateCompartment marks a compartment active.
func (s *Service) ActivateCompartment(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// DeactivateCompartment marks a compartment inactive. Its contents stay
// stored; it simply drops out of active context assembly.
func (s *Service) DeactivateCompartment(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) error {
	if err := fault.FromContext(ctx); err != nil {
		return err
	}
	c, err := s.liveCompartment(id)
	if err != nil {
		return err
	}

	s.compMu.Lock()
	c.Active = active
	cp := *c
	s.compMu.Unlock()
	return s.saveCompartment(ctx, &cp)
}

// SetCompartmentExpiration sets the compartment to expire ttl from now.
func (s *Service) SetCompartmentExpiration(ctx context.Context, id string, ttl time.Duration) error {
	if err := fault.FromContext(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		return fault.Invalid("ttl must be positive")
	}
	c, err := s.liveCompartment(id)
	if err != nil {
		return err
	}

	s.compMu.Lock()
	expires := now().Add(ttl)
	c.ExpiresAt = &expires
	cp := *c
	s.compMu.Unlock()
	return s.saveCompartment(ctx, &cp)
}

// ListCompartments returns the non-expired compartments sorted by
// creation time then id. Expired compartments are delisted.
func (s *Service) ListCompartments(ctx context.Context) ([]model.Compartment, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}

	s.compMu.Lock()
	out := make([]model.Compartment, 0, len(s.compartments))
	for _, c := range s.compartments {
		if c.Expired(now()) {
			continue
		}
		out = append(out, *c)
	}
	s.compMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// StoreInCompartment adds content to a compartment's namespace. Expired
// compartments reject membership.
func (s *Service) StoreInCompartment(ctx context.Context, id, content, key string) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	if _, err := s.liveCompartment(id); err != nil {
		return "", err
	}

	var md model.Metadata
	if key != "" {
		md = model.Metadata{model.MetaKey: model.StringValue(key)}
	}
	return s.Add(ctx, content, model.CompartmentNamespace(id), md)
}
