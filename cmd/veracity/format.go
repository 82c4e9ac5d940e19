package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-isatty"

	"github.com/jward/veracity"
)

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

// sourceCacheSize bounds how many files the renderer keeps split into lines.
const sourceCacheSize = 64

// renderer prints matches the way grep-style editors expect: a file:line:
// header, the item's doc and attributes, then its signature lines.
type renderer struct {
	w     io.Writer
	color bool
	files *lru.Cache[string, []string]
}

func newRenderer(w io.Writer, color bool) *renderer {
	files, _ := lru.New[string, []string](sourceCacheSize)
	return &renderer{w: w, color: color, files: files}
}

// search prints a result. When any match is transitive, direct and
// transitive matches get their own sections.
func (r *renderer) search(res *veracity.SearchResult) {
	if len(res.Transitive) == 0 {
		for _, m := range res.Direct {
			r.match(m)
		}
		return
	}
	if len(res.Direct) > 0 {
		fmt.Fprintln(r.w, "=== DIRECT ===")
		fmt.Fprintln(r.w)
		for _, m := range res.Direct {
			r.match(m)
		}
	}
	fmt.Fprintln(r.w, "=== TRANSITIVE ===")
	fmt.Fprintln(r.w)
	for _, m := range res.Transitive {
		r.match(m)
	}
}

func (r *renderer) match(m veracity.Result) {
	it := m.Item
	fmt.Fprintf(r.w, "%s%s:%d:%s\n", r.on(ansiRed), it.Location.File, it.Location.Line, r.off())
	for _, a := range it.Attributes {
		fmt.Fprintln(r.w, a)
	}
	sig := signatureLines(r.source(it.Location.File), it.Location)
	if len(sig) == 0 {
		sig = []string{fallbackSignature(it)}
	}
	if m.Via != "" {
		sig[len(sig)-1] += "  (via " + m.Via + ")"
	}
	for _, line := range sig {
		fmt.Fprintf(r.w, "%s%s%s\n", r.on(ansiGreen), line, r.off())
	}
	fmt.Fprintln(r.w)
}

func (r *renderer) on(code string) string {
	if r.color {
		return code
	}
	return ""
}

func (r *renderer) off() string {
	return r.on(ansiReset)
}

// source returns the lines of path, or nil when it cannot be read.
func (r *renderer) source(path string) []string {
	if lines, ok := r.files.Get(path); ok {
		return lines
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("source unavailable", "file", path, "error", err)
		return nil
	}
	lines := strings.Split(string(data), "\n")
	r.files.Add(path, lines)
	return lines
}

// signatureLines picks the declaration's header lines: from its first line
// through the line where the header ends. A final line holding only the
// opening brace is dropped.
func signatureLines(lines []string, loc veracity.Location) []string {
	start := loc.Line
	end := max(loc.HeaderEndLine, start)
	if start < 1 || start > len(lines) {
		return nil
	}
	end = min(end, len(lines))
	var out []string
	for _, l := range lines[start-1 : end] {
		out = append(out, strings.TrimRight(l, " \t\r"))
	}
	for len(out) > 1 {
		last := strings.TrimSpace(out[len(out)-1])
		if last != "" && last != "{" {
			break
		}
		out = out[:len(out)-1]
	}
	return out
}

func fallbackSignature(it *veracity.Item) string {
	parts := append(it.Modifiers.List(), it.Kind.String())
	if it.Name != "" {
		parts = append(parts, it.Name)
	}
	return strings.Join(parts, " ")
}

// useColor decides whether text output is colored: the config or flags
// when set, otherwise only when stdout is a terminal.
func useColor() bool {
	if flagFormat != "text" {
		return false
	}
	if cfg != nil && cfg.Color != nil {
		return *cfg.Color
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printErrors writes extraction errors to stderr.
func printErrors(errs []veracity.ExtractionError) {
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "warning: %s\n", e.Error())
	}
}

// outputResult writes a CLIResult to stdout as indented JSON. Text output
// is written by each command.
func outputResult(result CLIResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		var cerr *veracity.CompileError
		if errors.As(err, &cerr) {
			fmt.Fprint(os.Stderr, caret(cerr))
		}
		return err
	}
	_ = outputResult(CLIResult{Command: command, Error: err.Error()})
	return err
}

// caret points at the failing position of a query.
func caret(cerr *veracity.CompileError) string {
	pos := min(max(cerr.Pos, 0), len(cerr.Query))
	return fmt.Sprintf("  %s\n  %s^\n", cerr.Query, strings.Repeat(" ", pos))
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
