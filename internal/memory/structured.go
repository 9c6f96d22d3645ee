package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ckoons/engram/internal/categorize"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/lexical"
	"github.com/ckoons/engram/internal/model"
)

// SearchMemoriesOptions filters and orders a structured-memory search.
type SearchMemoriesOptions struct {
	Query         string
	Categories    []model.Category
	MinImportance int
	Tags          []string
	Limit         int
	// SortBy is one of "importance" (default), "recency", "relevance".
	SortBy string
}

// DigestOptions tunes a memory digest.
type DigestOptions struct {
	MaxMemories    int
	IncludePrivate bool
}

// AddMemory stores a structured memory with an id that encodes its
// category and creation time. Importance 0 takes the category default.
func (s *Service) AddMemory(ctx context.Context, content string, category model.Category, importance int, tags []string, metadata model.Metadata) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	if content == "" {
		return "", fault.Invalid("content must not be empty")
	}
	if _, ok := model.ParseCategory(string(category)); !ok {
		return "", fault.Invalid("unknown category: %s", category)
	}
	if category == model.CategoryPrivate {
		return s.AddPrivate(ctx, content)
	}
	if importance == 0 {
		importance = category.DefaultImportance()
	}
	if importance < model.MinImportance || importance > model.MaxImportance {
		return "", fault.Invalid("importance %d out of range [%d..%d]",
			importance, model.MinImportance, model.MaxImportance)
	}

	md := metadata.Clone()
	if md == nil {
		md = model.Metadata{}
	}
	md[model.MetaCategory] = model.StringValue(string(category))
	md[model.MetaImportance] = model.IntValue(importance)
	if len(tags) > 0 {
		sorted := append([]string(nil), tags...)
		sort.Strings(sorted)
		items := make([]model.Value, len(sorted))
		for i, tag := range sorted {
			items[i] = model.StringValue(tag)
		}
		md[model.MetaTags] = model.ListValue(items...)
	}

	id := model.NewMemoryID(category, time.Now())
	return s.add(ctx, id, content, structuredNamespace, md)
}

// AddAutoCategorized classifies content with the rule table and stores it
// under the resulting category and importance.
func (s *Service) AddAutoCategorized(ctx context.Context, content string) (string, error) {
	category, importance := categorize.Classify(content)
	return s.AddMemory(ctx, content, category, importance, nil, nil)
}

// GetMemory returns a structured memory by id.
func (s *Service) GetMemory(ctx context.Context, id string) (*model.Record, error) {
	if _, _, err := model.ParseMemoryID(id); err != nil {
		return nil, fault.Invalid("malformed memory id: %s", id)
	}
	return s.Get(ctx, structuredNamespace, id)
}

// SearchMemories filters the structured memories by category, importance,
// tags, and query relevance.
func (s *Service) SearchMemories(ctx context.Context, opts SearchMemoriesOptions) ([]Result, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, fault.Invalid("limit must not be negative")
	}
	if opts.Limit == 0 {
		opts.Limit = 10
	}

	wantCategory := map[model.Category]bool{}
	for _, c := range opts.Categories {
		category, ok := model.ParseCategory(string(c))
		if !ok {
			return nil, fault.Invalid("unknown category: %s", c)
		}
		wantCategory[category] = true
	}

	mu := s.nsLock(structuredNamespace)
	mu.RLock()
	records := s.store.All(structuredNamespace)
	mu.RUnlock()

	results := make([]Result, 0, len(records))
	for _, r := range records {
		category := r.Category()
		if category == "" {
			continue
		}
		if len(wantCategory) > 0 && !wantCategory[category] {
			continue
		}
		if r.Importance() < opts.MinImportance {
			continue
		}
		if !hasAllTags(r.Tags(), opts.Tags) {
			continue
		}
		relevance := 0.0
		if opts.Query != "" {
			relevance = lexical.Score(opts.Query, r.Content)
			if relevance <= 0 {
				continue
			}
		}
		results = append(results, Result{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Relevance: relevance,
			Mode:      model.ModeLexical,
		})
	}

	sortResults(results, opts.SortBy)
	if opts.Limit < len(results) {
		results = results[:opts.Limit]
	}
	return results, nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func sortResults(results []Result, sortBy string) {
	less := func(i, j int) bool {
		ri, rj := results[i], results[j]
		ii := importanceOf(ri)
		ij := importanceOf(rj)
		if ii != ij {
			return ii > ij
		}
		ti := ri.Metadata.GetString(model.MetaTimestamp)
		tj := rj.Metadata.GetString(model.MetaTimestamp)
		if ti != tj {
			return ti > tj
		}
		return ri.ID < rj.ID
	}
	switch sortBy {
	case "recency":
		less = func(i, j int) bool {
			ti := results[i].Metadata.GetString(model.MetaTimestamp)
			tj := results[j].Metadata.GetString(model.MetaTimestamp)
			if ti != tj {
				return ti > tj
			}
			return results[i].ID < results[j].ID
		}
	case "relevance":
		less = func(i, j int) bool {
			if results[i].Relevance != results[j].Relevance {
				return results[i].Relevance > results[j].Relevance
			}
			return results[i].ID < results[j].ID
		}
	}
	sort.Slice(results, less)
}

func importanceOf(r Result) int {
	if n, ok := r.Metadata.GetInt(model.MetaImportance); ok {
		return n
	}
	return model.MinImportance
}

// Digest renders the structured memories as deterministic markdown:
// category sections ordered by their most important entry, items starred
// by importance and dated from their timestamp.
func (s *Service) Digest(ctx context.Context, opts DigestOptions) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	if opts.MaxMemories <= 0 {
		opts.MaxMemories = 20
	}

	mu := s.nsLock(structuredNamespace)
	mu.RLock()
	records := s.store.All(structuredNamespace)
	mu.RUnlock()

	byCategory := map[model.Category][]model.Record{}
	for _, r := range records {
		category := r.Category()
		if category == "" {
			continue
		}
		if category == model.CategoryPrivate {
			if !opts.IncludePrivate {
				continue
			}
			plain, err := s.decryptRecord(&r)
			if err != nil {
				continue
			}
			r.Content = plain
		}
		byCategory[category] = append(byCategory[category], r)
	}

	type section struct {
		category model.Category
		records  []model.Record
		top      int
	}
	sections := make([]section, 0, len(byCategory))
	for category, rs := range byCategory {
		sort.Slice(rs, func(i, j int) bool {
			if rs[i].Importance() != rs[j].Importance() {
				return rs[i].Importance() > rs[j].Importance()
			}
			ti, tj := rs[i].Timestamp(), rs[j].Timestamp()
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return rs[i].ID < rs[j].ID
		})
		sections = append(sections, section{category: category, records: rs, top: rs[0].Importance()})
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].top != sections[j].top {
			return sections[i].top > sections[j].top
		}
		return sections[i].category < sections[j].category
	})

	var b strings.Builder
	b.WriteString("# Memory Digest\n")
	remaining := opts.MaxMemories
	for _, sec := range sections {
		if remaining == 0 {
			break
		}
		b.WriteString("\n## " + sec.category.Title() + "\n")
		for _, r := range sec.records {
			if remaining == 0 {
				break
			}
			stars := strings.Repeat("★", r.Importance())
			date := ""
			if ts := r.Timestamp(); !ts.IsZero() {
				date = ts.Format("2006-01-02")
			}
			fmt.Fprintf(&b, "- %s %s (%s)\n", stars, r.Content, date)
			remaining--
		}
	}
	return b.String(), nil
}
