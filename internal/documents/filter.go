package documents

import (
	"sort"
	"strings"
)

// SortKey selects the field List orders by.
type SortKey string

const (
	SortCreatedAt SortKey = "created_at"
	SortTitle     SortKey = "title"
)

// SortOptions is the ordering applied by List. The zero value is newest first.
type SortOptions struct {
	Key  SortKey
	Desc bool
}

// DefaultSort orders by created_at descending.
var DefaultSort = SortOptions{Key: SortCreatedAt, Desc: true}

// ParseSort reads the "sort" and "order" query values, falling back to DefaultSort.
func ParseSort(key, order string) SortOptions {
	opts := DefaultSort
	switch SortKey(strings.ToLower(strings.TrimSpace(key))) {
	case SortTitle:
		opts = SortOptions{Key: SortTitle}
	case SortCreatedAt:
		opts = DefaultSort
	}
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "asc":
		opts.Desc = false
	case "desc":
		opts.Desc = true
	}
	return opts
}

// SortDocuments orders docs in place. The sort is stable so equal keys keep their input order.
func SortDocuments(docs []Document, opts SortOptions) {
	less := func(a, b Document) bool { return a.CreatedAt.Before(b.CreatedAt) }
	if opts.Key == SortTitle {
		less = func(a, b Document) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if opts.Desc {
			return less(docs[j], docs[i])
		}
		return less(docs[i], docs[j])
	})
}

// Filter keeps documents matching category (exact, empty meaning General) and search
// (case-insensitive substring of title, notes or any tag). Empty filters match everything;
// order is preserved.
func Filter(docs []Document, category, search string) []Document {
	category = strings.TrimSpace(category)
	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if category != "" && doc.EffectiveCategory() != category {
			continue
		}
		if needle != "" && !matchesSearch(doc, needle) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func matchesSearch(doc Document, needle string) bool {
	if strings.Contains(strings.ToLower(doc.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(doc.Notes), needle) {
		return true
	}
	for _, tag := range doc.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Categories returns the sorted distinct categories of docs, always including General.
func Categories(docs []Document) []string {
	seen := map[string]struct{}{DefaultCategory: {}}
	for _, doc := range docs {
		seen[doc.EffectiveCategory()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// NormalizeTags trims, drops empties and removes case-insensitive duplicates, keeping first spelling.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// SplitTags parses a comma-separated tag field.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(raw, ","))
}
