package veracity

import (
	"github.com/jward/veracity/internal/extract"
	"github.com/jward/veracity/internal/item"
	"github.com/jward/veracity/internal/match"
	"github.com/jward/veracity/internal/pattern"
)

// Public type aliases for the internal types used in the Engine and
// Searcher API. No conversion is needed.

type Item = item.Item
type Kind = item.Kind
type Origin = item.Origin
type Location = item.Location
type Result = match.Result
type Relation = match.Relation
type ExtractionError = extract.ExtractionError
type CompileError = pattern.CompileError

const (
	OriginCodebase = item.OriginCodebase
	OriginLibrary  = item.OriginLibrary
	OriginBuiltin  = item.OriginBuiltin

	Direct     = match.Direct
	Transitive = match.Transitive
)
