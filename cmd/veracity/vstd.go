package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

var errNoVstd = errors.New("vstd source not found")

// discoverVstd finds the vstd sources from the verus binary on PATH.
func discoverVstd() (string, error) {
	bin, err := exec.LookPath("verus")
	if err != nil {
		return "", fmt.Errorf("%w: verus not in PATH", errNoVstd)
	}
	if resolved, err := filepath.EvalSymlinks(bin); err == nil {
		bin = resolved
	}
	return vstdFromBinary(bin)
}

// vstdFromBinary maps a verus binary, normally at
// source/target-verus/release/verus, to source/vstd.
func vstdFromBinary(bin string) (string, error) {
	source := filepath.Dir(filepath.Dir(filepath.Dir(bin)))
	vstd := filepath.Join(source, "vstd")
	if info, err := os.Stat(vstd); err == nil && info.IsDir() {
		return vstd, nil
	}
	return "", fmt.Errorf("%w: looked for %s next to %s", errNoVstd, vstd, bin)
}
