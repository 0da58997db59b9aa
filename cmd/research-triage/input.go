// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-triage/pkg/types"
)

// readInput reads path, or standard input when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// readRawResults loads search records from a YAML or JSON file. The file
// holds either a list of records or an object with a "results" list.
func readRawResults(path string) ([]types.RawResult, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseRawResults(data)
}

func parseRawResults(data []byte) ([]types.RawResult, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parsing records: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var results []types.RawResult
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&results); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Results []types.RawResult `yaml:"results"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("decoding records: %w", err)
		}
		results = wrapped.Results
	default:
		return nil, fmt.Errorf("records must be a list or an object with a results list")
	}
	return results, nil
}

// readPrompts loads a YAML or JSON list of prompt strings.
func readPrompts(path string) ([]string, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var prompts []string
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("%s holds no prompts", path)
	}
	return prompts, nil
}

// openOutput returns standard output for "" or "-", otherwise a new file
// at path with its parent directories created.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// writeYAML encodes v to path (or standard output) with two-space indent.
func writeYAML(path string, v any) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		out.Close()
		return fmt.Errorf("encoding output: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
