package veracity

import (
	"sort"

	"github.com/jward/veracity/internal/bounds"
	"github.com/jward/veracity/internal/extract"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/match"
)

// Index is the merged, immutable result of one indexing run. Items are
// sorted by (file, line, column). Queries read it concurrently and never
// modify it.
type Index struct {
	Items  []item.Item               `json:"items"`
	Files  int                       `json:"files"`
	Cached int                       `json:"cached"`
	Errors []extract.ExtractionError `json:"errors,omitempty"`

	// Bounds maps each trait to its declared supertraits; Aliases maps each
	// type alias to the base name of its target.
	Bounds  *bounds.Graph `json:"-"`
	Aliases *bounds.Graph `json:"-"`
}

// NewIndex builds an Index over items, deriving both graphs. Files counts
// the distinct files named by items and errors.
func NewIndex(items []item.Item, errs []extract.ExtractionError) *Index {
	item.SortStable(items)
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].File != errs[j].File {
			return errs[i].File < errs[j].File
		}
		return errs[i].Line < errs[j].Line
	})

	files := make(map[string]bool)
	for i := range items {
		files[items[i].Location.File] = true
	}
	for _, e := range errs {
		files[e.File] = true
	}
	return &Index{
		Items:   items,
		Files:   len(files),
		Errors:  errs,
		Bounds:  bounds.Build(items),
		Aliases: bounds.BuildAliases(items),
	}
}

// Graphs returns the graphs the matcher consults.
func (x *Index) Graphs() match.Graphs {
	return match.Graphs{Bounds: x.Bounds, Aliases: x.Aliases}
}

// Lookup returns every item named name, in index order.
func (x *Index) Lookup(name string) []*item.Item {
	var out []*item.Item
	for i := range x.Items {
		if x.Items[i].Name == name {
			out = append(out, &x.Items[i])
		}
	}
	return out
}
