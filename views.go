package veracity

import (
	"sort"
	"strings"

	"github.com/jward/veracity/internal/bounds"
	"github.com/jward/veracity/internal/item"
)

// GroupView is one broadcast group and the files that enable it.
type GroupView struct {
	Name    string   `json:"name"`
	Origin  string   `json:"origin"`
	File    string   `json:"file"`
	Line    int      `json:"line"`
	Members []string `json:"members"`
	UsedIn  []string `json:"used_in,omitempty"`
}

// BroadcastGroups lists every broadcast group in index order. A file uses
// a group when it has a `broadcast use` import whose last path segment is
// the group's name.
func BroadcastGroups(idx *Index) []GroupView {
	users := make(map[string]map[string]bool)
	for i := range idx.Items {
		it := &idx.Items[i]
		if it.Kind != item.KindUseImport || !it.Modifiers.Has(item.ModBroadcast) {
			continue
		}
		name := bounds.BaseName(it.Name)
		if users[name] == nil {
			users[name] = make(map[string]bool)
		}
		users[name][it.Location.File] = true
	}

	var out []GroupView
	for i := range idx.Items {
		it := &idx.Items[i]
		if it.Kind != item.KindBroadcastGroup {
			continue
		}
		out = append(out, GroupView{
			Name:    it.Name,
			Origin:  it.Origin.String(),
			File:    it.Location.File,
			Line:    it.Location.Line,
			Members: append([]string{}, it.Members...),
			UsedIn:  sortedKeys(users[it.Name]),
		})
	}
	return out
}

// Reasons an item is classified as an axiom.
const (
	AxiomModifier     = "axiom"
	AxiomExternalBody = "external_body"
	AxiomNamed        = "named"
)

// AxiomView is one trusted, unproven function.
type AxiomView struct {
	Name      string `json:"name"`
	Origin    string `json:"origin"`
	Library   bool   `json:"library"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Reason    string `json:"reason"`
	Broadcast bool   `json:"broadcast"`
	Group     string `json:"group,omitempty"`
}

// Axioms lists functions whose properties are assumed rather than proven:
// those with the axiom modifier, those marked external_body, and those
// named axiom_*. Each is classified as library or project, and as
// broadcast when it carries the broadcast modifier or belongs to a group.
func Axioms(idx *Index) []AxiomView {
	groupOf := make(map[string]string)
	for i := range idx.Items {
		it := &idx.Items[i]
		if it.Kind != item.KindBroadcastGroup {
			continue
		}
		for _, m := range it.Members {
			base := bounds.BaseName(m)
			if _, ok := groupOf[base]; !ok {
				groupOf[base] = it.Name
			}
		}
	}

	var out []AxiomView
	for i := range idx.Items {
		it := &idx.Items[i]
		if it.Kind != item.KindFunction {
			continue
		}
		reason, ok := axiomReason(it)
		if !ok {
			continue
		}
		group := groupOf[it.Name]
		out = append(out, AxiomView{
			Name:      it.Name,
			Origin:    it.Origin.String(),
			Library:   it.Origin != item.OriginCodebase,
			File:      it.Location.File,
			Line:      it.Location.Line,
			Reason:    reason,
			Broadcast: it.Modifiers.Has(item.ModBroadcast) || group != "",
			Group:     group,
		})
	}
	return out
}

func axiomReason(it *item.Item) (string, bool) {
	switch {
	case it.Modifiers.Has(item.ModAxiom):
		return AxiomModifier, true
	case strings.Contains(it.AttributeText(), "external_body"):
		return AxiomExternalBody, true
	case strings.HasPrefix(it.Name, "axiom_"):
		return AxiomNamed, true
	}
	return "", false
}

// SummaryView counts the index contents.
type SummaryView struct {
	Files    int            `json:"files"`
	Cached   int            `json:"cached"`
	Items    int            `json:"items"`
	Errors   int            `json:"errors"`
	ByKind   map[string]int `json:"by_kind"`
	ByOrigin map[string]int `json:"by_origin"`
	ByMode   map[string]int `json:"by_mode"`
}

// Summary counts items by kind and origin, and functions by mode. A
// function with no mode keyword is counted as exec.
func Summary(idx *Index) SummaryView {
	s := SummaryView{
		Files:    idx.Files,
		Cached:   idx.Cached,
		Items:    len(idx.Items),
		Errors:   len(idx.Errors),
		ByKind:   make(map[string]int),
		ByOrigin: make(map[string]int),
		ByMode:   make(map[string]int),
	}
	for i := range idx.Items {
		it := &idx.Items[i]
		s.ByKind[it.Kind.String()]++
		s.ByOrigin[it.Origin.String()]++
		if it.Kind == item.KindFunction {
			s.ByMode[mode(it.Modifiers)]++
		}
	}
	return s
}

func mode(m item.Modifiers) string {
	switch {
	case m.Has(item.ModSpec):
		return "spec"
	case m.Has(item.ModProof):
		return "proof"
	default:
		return "exec"
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
