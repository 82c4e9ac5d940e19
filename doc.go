// Package veracity indexes Rust sources written in the Verus verification
// dialect and answers structural queries against the index, such as "every
// proof function whose name starts with lemma_, takes a Seq, and requires
// something about forall".
//
// # Pipeline
//
// Veracity operates in three steps:
//
//  1. Index: discover .rs files under the configured roots (vstd, builtin
//     and the codebase), parse each with tree-sitter, and extract one
//     [Item] per declaration. Declarations inside verus! blocks are read
//     from the macro's token stream, so both regimes yield the same shape.
//     The bound graph and alias graph are derived once from the items.
//
//  2. Compile: turn a query string into a pattern tree.
//
//  3. Match: evaluate the pattern against every item, in parallel chunks,
//     and partition the results into direct and transitive matches.
//
// # Usage
//
//	e, err := veracity.New(
//		veracity.WithVstd("/opt/verus/source/vstd"),
//		veracity.WithCodebase("src"),
//	)
//	if err != nil { ... }
//	defer e.Close()
//
//	idx, err := e.Index(ctx)
//	res, err := veracity.NewSearcher(idx).Search(ctx, "proof fn lemma_.* requires forall", false)
//	for _, r := range res.Direct { ... }
//
// # Caching
//
// With [WithCache], extraction results are stored per file keyed by content
// hash, so unchanged files are not re-parsed on the next run. The cache is
// reset automatically when the extractor version or macro set changes.
//
// # Views
//
// [BroadcastGroups], [Axioms] and [Summary] are derived views over an
// [Index]. They never mutate it.
package veracity
