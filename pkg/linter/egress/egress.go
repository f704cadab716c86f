// Package egress lints Go sources for network calls that bypass the
// probe kit's egress policy. Hostnames must resolve through pkg/doh,
// sockets must open through core/transport, and HTTP must go through
// core/fetch; direct use of the stdlib resolver, dialer, or default
// HTTP client anywhere else is reported.
package egress

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Issue is one detected policy violation.
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

	// SkipTestFiles skips *_test.go, where httptest servers and fake
	// dialers are legitimate.
	SkipTestFiles bool

	// LogExemptions prints a line whenever an exemption is used.
	LogExemptions bool

	// StrictMode stops honoring exemptions whose ExpiryDate has passed.
	StrictMode bool
}

// NewDefaultConfig returns the policy for this repository: the packages
// that implement the egress path are allowed to touch the stdlib
// directly, everything else is not.
func NewDefaultConfig() *Config {
	return &Config{
		ExemptFiles: []ExemptFile{},
		ExemptDirectories: []string{
			"pkg/doh",
			"core/transport",
			"testutils",
			"cmd/dohtest",
		},
		SkipTestFiles: true,
		LogExemptions: false,
		StrictMode:    false,
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

// LintProject checks every Go file under rootDir against config.
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

// LintFile checks a single Go file for egress policy violations.
func LintFile(filePath string) ([]Issue, error) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, nil, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("error parsing file: %w", err)
	}

	// Map every local import name, aliased or not, to its path so a
	// single lookup covers `net`, `mynet "net"`, and friends.
	imports := make(map[string]string)
	for _, imp := range node.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		importName := ""
		if imp.Name != nil {
			importName = imp.Name.Name
		} else {
			parts := strings.Split(importPath, "/")
			importName = parts[len(parts)-1]
		}
		imports[importName] = importPath
	}

	resolve := func(expr ast.Expr) string {
		ident, ok := expr.(*ast.Ident)
		if !ok {
			return ""
		}
		return imports[ident.Name]
	}

	var issues []Issue
	report := func(pos token.Pos, format string, args ...interface{}) {
		p := fset.Position(pos)
		issues = append(issues, Issue{
			File:    filePath,
			Line:    p.Line,
			Column:  p.Column,
			Message: fmt.Sprintf(format, args...),
		})
	}

	ast.Inspect(node, func(n ast.Node) bool {
		switch v := n.(type) {
		case *ast.CallExpr:
			sel, ok := v.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			switch resolve(sel.X) {
			case "net":
				name := sel.Sel.Name
				if isForbiddenLookup(name) {
					report(sel.Pos(), "Direct use of net.%s is prohibited. Resolve hostnames through pkg/doh instead.", name)
				}
				if isForbiddenDial(name) {
					report(sel.Pos(), "Direct use of net.%s is prohibited. Dial through core/transport so the egress policy applies.", name)
				}
			case "net/http":
				name := sel.Sel.Name
				if isForbiddenHTTPCall(name) {
					report(sel.Pos(), "Direct use of http.%s is prohibited. Fetch through core/fetch so every URL is vetted.", name)
				}
			}

		case *ast.SelectorExpr:
			switch resolve(v.X) {
			case "net":
				if v.Sel.Name == "DefaultResolver" {
					report(v.Pos(), "Use of net.DefaultResolver is prohibited. Resolve hostnames through pkg/doh instead.")
				}
			case "net/http":
				if v.Sel.Name == "DefaultClient" || v.Sel.Name == "DefaultTransport" {
					report(v.Pos(), "Use of http.%s is prohibited. Fetch through core/fetch so every URL is vetted.", v.Sel.Name)
				}
			}

		case *ast.CompositeLit:
			typ, ok := v.Type.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if resolve(typ.X) != "net" {
				return true
			}
			switch typ.Sel.Name {
			case "Dialer":
				report(typ.Pos(), "Constructing net.Dialer directly is prohibited. Use core/transport dialers so the egress policy applies.")
			case "Resolver":
				report(typ.Pos(), "Constructing net.Resolver directly is prohibited. Resolve hostnames through pkg/doh instead.")
			}
		}
		return true
	})

	return issues, nil
}

func isForbiddenLookup(name string) bool {
	switch name {
	case "LookupIP", "LookupIPAddr", "LookupHost", "LookupAddr",
		"LookupCNAME", "LookupMX", "LookupNS", "LookupSRV", "LookupTXT":
		return true
	}
	return false
}

func isForbiddenDial(name string) bool {
	switch name {
	case "Dial", "DialTimeout", "DialUDP", "DialTCP", "DialIP":
		return true
	}
	return false
}

func isForbiddenHTTPCall(name string) bool {
	switch name {
	case "Get", "Post", "Head", "PostForm":
		return true
	}
	return false
}
