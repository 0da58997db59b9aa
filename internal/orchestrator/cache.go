// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// cacheKey identifies a call by everything that shapes its reply.
func cacheKey(opts CallOptions, prompt string) string {
	h := sha256.New()
	schemaName := ""
	if opts.Schema != nil {
		schemaName = opts.Schema.Name()
	}
	for _, part := range []string{
		opts.Model,
		opts.System,
		strconv.FormatFloat(opts.Temperature, 'g', -1, 64),
		strconv.Itoa(opts.MaxTokens),
		schemaName,
		prompt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (o *Orchestrator) cached(opts CallOptions, prompt string) (Result, bool) {
	if o.cache == nil {
		return Result{}, false
	}
	return o.cache.Get(cacheKey(opts, prompt))
}

func (o *Orchestrator) remember(opts CallOptions, r Result) {
	if o.cache == nil || r.Err != nil {
		return
	}
	o.cache.Add(cacheKey(opts, r.Prompt), r)
}
