package policy

import (
	"context"
	"embed"
	"os"
	"path"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed default/*.rego
var defaultPolicies embed.FS

// loadModules reads all Rego files from policyDir. An empty policyDir
// loads the embedded default policies.
func loadModules(policyDir string) ([]func(*rego.Rego), error) {
	if policyDir == "" {
		entries, err := defaultPolicies.ReadDir("default")
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read embedded policies")
		}
		modules := make([]func(*rego.Rego), 0, len(entries))
		for _, e := range entries {
			name := path.Join("default", e.Name())
			data, err := defaultPolicies.ReadFile(name)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read embedded policy", goerr.V("path", name))
			}
			modules = append(modules, rego.Module(name, string(data)))
		}
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// prepareQuery prepares a Rego query with all loaded modules
func prepareQuery(ctx context.Context, modules []func(*rego.Rego), query string) (*rego.PreparedEvalQuery, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(query))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", query))
	}

	return &prepared, nil
}
