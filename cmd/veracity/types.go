package main

import "github.com/jward/veracity"

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIMatch is a JSON-friendly match.
type CLIMatch struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Modifiers  []string `json:"modifiers,omitempty"`
	Origin     string   `json:"origin"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Column     int      `json:"column"`
	Generics   string   `json:"generics,omitempty"`
	ReturnType string   `json:"return_type,omitempty"`
	Relation   string   `json:"relation"`
	Via        string   `json:"via,omitempty"`
}

// CLIError is a JSON-friendly extraction error.
type CLIError struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Reason string `json:"reason"`
}

// CLISearch is the result of one search.
type CLISearch struct {
	Query      string     `json:"query"`
	Pattern    string     `json:"pattern"`
	Files      int        `json:"files"`
	Items      int        `json:"items"`
	Direct     []CLIMatch `json:"direct"`
	Transitive []CLIMatch `json:"transitive"`
	Errors     []CLIError `json:"errors,omitempty"`
}

// CLIIndex is the result of the index command.
type CLIIndex struct {
	veracity.SummaryView
	Roots    []veracity.Root `json:"roots"`
	Elapsed  string          `json:"elapsed"`
	ErrorLog []CLIError      `json:"error_log,omitempty"`
}

// CLIBounds is the bound-graph neighbourhood of one trait.
type CLIBounds struct {
	Trait      string   `json:"trait"`
	Known      bool     `json:"known"`
	Direct     []string `json:"direct"`
	Transitive []string `json:"transitive"`
}

func matchToCLI(r veracity.Result) CLIMatch {
	it := r.Item
	return CLIMatch{
		Name:       it.Name,
		Kind:       it.Kind.String(),
		Modifiers:  it.Modifiers.List(),
		Origin:     it.Origin.String(),
		File:       it.Location.File,
		Line:       it.Location.Line,
		Column:     it.Location.Column,
		Generics:   it.GenericsText(),
		ReturnType: it.ReturnType,
		Relation:   r.Relation.String(),
		Via:        r.Via,
	}
}

func matchesToCLI(rs []veracity.Result) []CLIMatch {
	out := make([]CLIMatch, len(rs))
	for i, r := range rs {
		out[i] = matchToCLI(r)
	}
	return out
}

func errorsToCLI(errs []veracity.ExtractionError) []CLIError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]CLIError, len(errs))
	for i, e := range errs {
		out[i] = CLIError{File: e.File, Line: e.Line, Reason: e.Reason}
	}
	return out
}
