// Package importer reads contract manifests and registers their contracts.
// Manifests are YAML or JSON documents validated against an embedded JSON
// Schema before anything is decoded.
package importer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"contractline/internal/domain"
	"contractline/internal/graph"
	"contractline/internal/registry"
)

//go:embed contract_manifest.schema.json
var manifestSchema []byte

const schemaURL = "https://contractline.local/schemas/contract_manifest.schema.json"

var ErrInvalidManifest = errors.New("invalid manifest")

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(manifestSchema)); err != nil {
			compileErr = fmt.Errorf("manifest schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

type manifest struct {
	Contracts []domain.Contract `json:"contracts"`
}

// Parse validates and decodes a manifest. JSON is accepted as a subset of
// YAML.
func Parse(data []byte) ([]domain.Contract, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	// Round-trip through encoding/json so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	sch, err := schema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	seen := make(map[string]bool, len(m.Contracts))
	for _, c := range m.Contracts {
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: contract %s listed twice", ErrInvalidManifest, c.ID)
		}
		seen[c.ID] = true
	}
	return m.Contracts, nil
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) ([]domain.Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

type Options struct {
	// SkipExisting leaves contracts whose ID is already registered alone
	// instead of failing the import.
	SkipExisting bool
}

type Result struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped,omitempty"`
}

// Apply registers contracts so that every contract comes after the manifest
// contracts it depends on. The first failure stops the import; contracts
// registered before it stay registered and are listed in the result.
func Apply(reg *registry.Registry, contracts []domain.Contract, opts Options) (Result, error) {
	byID := make(map[string]domain.Contract, len(contracts))
	ids := make([]string, 0, len(contracts))
	for _, c := range contracts {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	leveled, err := graph.Plan(ids, func(id string) []string { return byID[id].DependsOn })
	if err != nil {
		var pce *graph.PlanCycleError
		if errors.As(err, &pce) && len(pce.Unresolved) > 0 {
			c := byID[pce.Unresolved[0]]
			return Result{}, &registry.CycleError{ContractID: c.ID, DependsOn: c.DependsOn, Path: pce.Unresolved}
		}
		return Result{}, err
	}

	res := Result{Created: []string{}}
	for _, id := range leveled.Order {
		if _, err := reg.Register(byID[id]); err != nil {
			if opts.SkipExisting && errors.Is(err, registry.ErrAlreadyExists) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			return res, fmt.Errorf("import %s: %w", id, err)
		}
		res.Created = append(res.Created, id)
	}
	return res, nil
}
