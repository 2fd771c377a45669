// Package documents finds a person's supporting PDFs on disk. The layout is
// one folder per person under a base directory, each holding files named by
// a numeric document code followed by the person's name, e.g.
// "002 John Smith.pdf".
package documents

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/otms-autofill/otms-autofill/internal/textnorm"
)

// Document codes used by the pre-enrolment form.
const (
	CodeIdentityCard = "002"
	CodePassport     = "003"
	CodeCertificate  = "004"
)

var (
	illegalChars   = strings.NewReplacer(`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "", "<", "", ">", "", "|", "")
	wordSeparators = strings.NewReplacer("_", " ", "-", " ")
)

// FindPersonFolder returns the subdirectory of baseDir named after name.
// Names compare with case and whitespace ignored. Without an exact match the
// first subdirectory whose name contains name wins. Subdirectories are
// visited in lexical order.
func FindPersonFolder(baseDir, name string) (string, bool) {
	target := textnorm.Fold(name)
	if target == "" {
		return "", false
	}
	dirs := subdirectories(baseDir)

	for _, d := range dirs {
		if textnorm.Fold(d) == target {
			return filepath.Join(baseDir, d), true
		}
	}
	for _, d := range dirs {
		if strings.Contains(textnorm.Fold(d), target) {
			return filepath.Join(baseDir, d), true
		}
	}
	return "", false
}

// FindDocument returns the PDF in folder for the document code. Candidates
// are "<code> <name>.pdf", "<code>_<name>.pdf", "<code>-<name>.pdf" and then
// every "<code>*.pdf" in lexical order. The first existing candidate whose
// file name contains the person's name is preferred, treating underscores
// and hyphens as spaces; otherwise the first existing candidate is returned.
func FindDocument(folder, code, name string) (string, bool) {
	if folder == "" || code == "" {
		return "", false
	}
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return "", false
	}

	base := strings.TrimSpace(illegalChars.Replace(name))
	var candidates []string
	for _, sep := range []string{" ", "_", "-"} {
		candidates = append(candidates, filepath.Join(folder, code+sep+base+".pdf"))
	}
	candidates = append(candidates, prefixed(folder, code)...)

	want := nameKey(base)
	var existing []string
	for _, c := range candidates {
		if isPDF(c) {
			existing = append(existing, c)
		}
	}
	for _, c := range existing {
		if strings.Contains(nameKey(filepath.Base(c)), want) {
			return c, true
		}
	}
	if len(existing) > 0 {
		return existing[0], true
	}
	return "", false
}

func nameKey(s string) string {
	return textnorm.Fold(wordSeparators.Replace(s))
}

func subdirectories(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		// Follow symlinked person folders.
		if e.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(filepath.Join(dir, e.Name())); err == nil && info.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
	}
	return dirs
}

// prefixed lists files in folder starting with code and ending in .pdf in
// any case. os.ReadDir returns them sorted by name.
func prefixed(folder, code string) []string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, code) && strings.HasSuffix(strings.ToLower(n), ".pdf") {
			out = append(out, filepath.Join(folder, n))
		}
	}
	return out
}

func isPDF(path string) bool {
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
