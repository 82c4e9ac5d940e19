package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/risor-io/risor/object"

	"github.com/jward/veracity/internal/pattern"
)

// makeMatchesFn creates the "matches" host function.
//
// matches(text, word) → bool
//
// word uses the query language's name rules: word boundary by default,
// ".*" wildcards, "!" suffix and (a|b&c) groups.
func makeMatchesFn() *object.Builtin {
	return object.NewBuiltin("matches", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("matches", 2, len(args))
		}
		text, err := toString(args[0])
		if err != nil {
			return object.Errorf("matches: text: %v", err)
		}
		word, err := toString(args[1])
		if err != nil {
			return object.Errorf("matches: word: %v", err)
		}
		term, err := pattern.NameTerm(word)
		if err != nil {
			return object.Errorf("matches: %v", err)
		}
		return object.NewBool(term.Match(text))
	})
}

// makeHasModifierFn creates "has_modifier".
//
// has_modifier(item, "proof") → bool
func makeHasModifierFn() *object.Builtin {
	return object.NewBuiltin("has_modifier", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("has_modifier", 2, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("has_modifier: %v", err)
		}
		want, err := toString(args[1])
		if err != nil {
			return object.Errorf("has_modifier: %v", err)
		}
		mods, ok := m["modifiers"].(*object.List)
		if !ok {
			return object.False
		}
		for _, v := range mods.Value() {
			if s, ok := v.(*object.String); ok && s.Value() == want {
				return object.True
			}
		}
		return object.False
	})
}

// makeClauseFn creates "clause", which returns nil when the clause is absent.
//
// clause(item, "requires") → string or nil
func makeClauseFn() *object.Builtin {
	return object.NewBuiltin("clause", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("clause", 2, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("clause: %v", err)
		}
		kind, err := toString(args[1])
		if err != nil {
			return object.Errorf("clause: %v", err)
		}
		clauses, ok := m["clauses"].(*object.Map)
		if !ok {
			return object.Nil
		}
		if v, ok := clauses.Value()[kind]; ok {
			return v
		}
		return object.Nil
	})
}

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

// logObject provides log.info/warn/error methods for scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg, "source", "script")
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg, "source", "script")
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg, "source", "script")
}
