package runtime

import (
	"github.com/risor-io/risor/object"

	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/match"
)

// ItemObject converts an item into the map scripts see as `item`. Body
// tokens are not exposed; body_text carries them joined.
func ItemObject(it *item.Item) *object.Map {
	m := map[string]object.Object{
		"kind":         object.NewString(it.Kind.String()),
		"name":         object.NewString(it.Name),
		"modifiers":    stringList(it.Modifiers.List()),
		"generics":     genericList(it.Generics),
		"params":       paramList(it.Params),
		"fields":       paramList(it.Fields),
		"return_type":  object.NewString(it.ReturnType),
		"clauses":      clauseMap(it.Clauses),
		"trait_target": object.NewString(it.TraitTarget),
		"for_type":     object.NewString(it.ForType),
		"bounds":       stringList(it.Bounds),
		"alias_of":     object.NewString(it.AliasOf),
		"members":      stringList(it.Members),
		"methods":      methodList(it.Methods),
		"assoc_types":  stringList(it.AssocTypes),
		"attributes":   stringList(it.Attributes),
		"has_body":     object.NewBool(it.HasBody),
		"body_text":    object.NewString(item.JoinTokens(it.Body)),
		"origin":       object.NewString(it.Origin.String()),
		"file":         object.NewString(it.Location.File),
		"line":         object.NewInt(int64(it.Location.Line)),
	}
	return object.NewMap(m)
}

// ItemList converts items into a Risor list of item maps.
func ItemList(items []item.Item) *object.List {
	out := make([]object.Object, len(items))
	for i := range items {
		out[i] = ItemObject(&items[i])
	}
	return object.NewList(out)
}

// ResultGlobals are the globals a filter expression sees for one result.
func ResultGlobals(r match.Result) map[string]any {
	return map[string]any{
		"item":     ItemObject(r.Item),
		"relation": object.NewString(r.Relation.String()),
		"via":      object.NewString(r.Via),
	}
}

func stringList(values []string) *object.List {
	out := make([]object.Object, len(values))
	for i, v := range values {
		out[i] = object.NewString(v)
	}
	return object.NewList(out)
}

func paramList(params []item.Param) *object.List {
	out := make([]object.Object, len(params))
	for i, p := range params {
		out[i] = object.NewMap(map[string]object.Object{
			"name": object.NewString(p.Name),
			"type": object.NewString(p.Type),
		})
	}
	return object.NewList(out)
}

func genericList(gens []item.Generic) *object.List {
	out := make([]object.Object, len(gens))
	for i, g := range gens {
		out[i] = object.NewMap(map[string]object.Object{
			"name":   object.NewString(g.Name),
			"bounds": object.NewString(g.Bounds),
		})
	}
	return object.NewList(out)
}

func methodList(methods []item.Method) *object.List {
	out := make([]object.Object, len(methods))
	for i, m := range methods {
		out[i] = object.NewMap(map[string]object.Object{
			"name":        object.NewString(m.Name),
			"params":      paramList(m.Params),
			"return_type": object.NewString(m.ReturnType),
		})
	}
	return object.NewList(out)
}

func clauseMap(clauses map[item.ClauseKind]string) *object.Map {
	m := make(map[string]object.Object, len(clauses))
	for k, v := range clauses {
		m[string(k)] = object.NewString(v)
	}
	return object.NewMap(m)
}
