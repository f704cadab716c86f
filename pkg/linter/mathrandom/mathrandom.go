// Package mathrandom lints Go sources for math/rand imports.
// Verification tokens and retry jitter must come from crypto/rand via
// pkg/securerandom; a single math/rand import anywhere in the egress
// path would make token values predictable.
package mathrandom

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Issue is one detected math/rand usage.
type Issue struct {
	File    string
	Line    int
	Column  int
	Message string
}

// ExemptFile marks a file the linter skips. ExpiryDate is optional and
// uses YYYY-MM-DD; in strict mode an expired exemption stops applying.
type ExemptFile struct {
	Path       string
	Reason     string
	ExpiryDate string
}

// Config controls a lint run.
type Config struct {
	// ExemptFiles are skipped by path suffix.
	ExemptFiles []ExemptFile

	// ExemptDirectories are skipped entirely, relative to the scan root.
	ExemptDirectories []string

	// SkipTestFiles skips *_test.go, where deterministic seeded
	// randomness is legitimate.
	SkipTestFiles bool

	// LogExemptions prints a line whenever an exemption is used.
	LogExemptions bool

	// StrictMode stops honoring exemptions whose ExpiryDate has passed.
	StrictMode bool
}

// NewDefaultConfig creates a default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		ExemptFiles:       []ExemptFile{},
		ExemptDirectories: []string{},
		SkipTestFiles:     true,
		LogExemptions:     false,
		StrictMode:        true,
	}
}

func (e ExemptFile) expired(now time.Time) bool {
	if e.ExpiryDate == "" {
		return false
	}
	t, err := time.Parse("2006-01-02", e.ExpiryDate)
	if err != nil {
		// An exemption nobody can parse should not keep working.
		return true
	}
	return now.After(t)
}

// LintProject checks every Go file under rootDir for math/rand imports.
func LintProject(rootDir string, config *Config) ([]Issue, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	var issues []Issue

	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if path != rootDir && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") ||
				name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			for _, exemptDir := range config.ExemptDirectories {
				if path == filepath.Join(rootDir, exemptDir) {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		if config.SkipTestFiles && strings.HasSuffix(path, "_test.go") {
			return nil
		}

		for _, exemptFile := range config.ExemptFiles {
			if !strings.HasSuffix(path, exemptFile.Path) {
				continue
			}
			if config.StrictMode && exemptFile.expired(time.Now()) {
				fmt.Printf("Exemption for %s expired on %s, linting it\n", path, exemptFile.ExpiryDate)
				break
			}
			if config.LogExemptions {
				fmt.Printf("Skipping exempt file: %s (Reason: %s)\n", path, exemptFile.Reason)
			}
			return nil
		}

		fileIssues, err := LintFile(path)
		if err != nil {
			return fmt.Errorf("error linting file %s: %w", path, err)
		}
		issues = append(issues, fileIssues...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("error walking directory: %w", err)
	}

	return issues, nil
}

// LintFile checks a single Go file for math/rand imports.
func LintFile(filePath string) ([]Issue, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, nil, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("error parsing file: %w", err)
	}

	var issues []Issue
	for _, imp := range node.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		if importPath != "math/rand" && !strings.HasPrefix(importPath, "math/rand/") {
			continue
		}

		pos := fset.Position(imp.Pos())
		message := "math/rand import is prohibited. Use pkg/securerandom instead."
		switch {
		case imp.Name != nil && imp.Name.Name == ".":
			message = "Dot import of math/rand is prohibited: it makes insecure functions available unqualified. Use pkg/securerandom instead."
		case imp.Name != nil:
			message = fmt.Sprintf("Import of math/rand as '%s' is prohibited. Use pkg/securerandom instead.", imp.Name.Name)
		}
		issues = append(issues, Issue{
			File:    filePath,
			Line:    pos.Line,
			Column:  pos.Column,
			Message: message,
		})
	}

	return issues, nil
}
