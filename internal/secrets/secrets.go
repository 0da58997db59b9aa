// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: anthropic-api-key, ollama-url, semantic-scholar-api-key,
// openalex-email.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/pkg/types"
)

// Key file names.
const (
	AnthropicAPIKey       = "anthropic-api-key"
	OllamaURL             = "ollama-url"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	OpenAlexEmail         = "openalex-email"
)

// AnthropicEnv is the environment variable consulted when no key file exists.
const AnthropicEnv = "ANTHROPIC_API_KEY"

// Secrets maps key file names to their trimmed contents.
type Secrets map[string]string

// Load reads all files in dir and returns their trimmed contents by filename.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger *zap.Logger) (Secrets, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(Secrets)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Keys returns the loaded key names, sorted. Values are never exposed.
func (s Secrets) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyAI fills credentials the configuration left empty. A configured
// value wins over a key file, and a key file over the environment.
func (s Secrets) ApplyAI(ai *types.AIConfig, getenv func(string) string) {
	if ai.APIKey == "" {
		ai.APIKey = s[AnthropicAPIKey]
	}
	if ai.APIKey == "" && getenv != nil {
		ai.APIKey = strings.TrimSpace(getenv(AnthropicEnv))
	}
	if v := s[OllamaURL]; v != "" && (ai.OllamaURL == "" || ai.OllamaURL == types.DefaultPipelineConfig().AI.OllamaURL) {
		ai.OllamaURL = v
	}
}

// ApplySearch fills search credentials the configuration left empty.
func (s Secrets) ApplySearch(sc *types.SearchConfig) {
	if sc.SemanticScholarAPIKey == "" {
		sc.SemanticScholarAPIKey = s[SemanticScholarAPIKey]
	}
	if sc.OpenAlexEmail == "" {
		sc.OpenAlexEmail = s[OpenAlexEmail]
	}
}
