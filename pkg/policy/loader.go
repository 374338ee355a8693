package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

// Loader reads user policies from .rego files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths reads every policy file named by paths. A directory
// contributes all policy files below it in lexical order. A policy is named
// after its file, and names must be unique across paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var files []string
	for _, path := range paths {
		found, err := policyFiles(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		files = append(files, found...)
	}

	policies := make([]Policy, 0, len(files))
	sources := make(map[string]string, len(files))
	for _, file := range files {
		p, err := l.readPolicy(file)
		if err != nil {
			return nil, err
		}
		if prev, dup := sources[p.Name]; dup {
			return nil, fmt.Errorf("policy %s is defined by both %s and %s", p.Name, prev, p.Source)
		}
		sources[p.Name] = p.Source
		policies = append(policies, *p)
	}

	l.logger.Debug().Int("total", len(policies)).Strs("paths", paths).Msg("Policies loaded from paths")
	return policies, nil
}

// policyFiles expands path into policy files. A file named explicitly is
// returned as is so that a wrong extension is reported rather than skipped.
func policyFiles(ctx context.Context, path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && IsPolicyFile(p) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// IsPolicyFile reports whether path names a Rego policy module.
// Rego unit tests (*_test.rego) are not policies.
func IsPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") && !strings.HasSuffix(path, "_test.rego")
}

// readPolicy parses one .rego file. The comment block above the package
// clause becomes the description.
func (l *Loader) readPolicy(path string) (*Policy, error) {
	if filepath.Ext(path) != ".rego" {
		return nil, fmt.Errorf("unsupported policy file %s: want .rego", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	module, err := ast.ParseModule(path, string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", path, err)
	}

	p := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: leadingComment(module),
		Rego:        string(data),
		Enabled:     true,
		Source:      path,
	}
	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded from file")
	return p, nil
}

func leadingComment(m *ast.Module) string {
	if m.Package == nil || m.Package.Location == nil {
		return ""
	}
	var lines []string
	for _, c := range m.Comments {
		if c.Location == nil || c.Location.Row >= m.Package.Location.Row {
			break
		}
		if text := strings.TrimSpace(string(c.Text)); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " ")
}
