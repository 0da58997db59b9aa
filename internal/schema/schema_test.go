// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	Label  string   `json:"label"`
	Score  int      `json:"score"`
	Reason string   `json:"reason,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

func verdictSchema() *Object[verdict] {
	return New[verdict]("verdict", func(v *verdict) error {
		if v.Label == "" {
			return errors.New("missing label")
		}
		return nil
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    verdict
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"label":"yes","score":3}`,
			want: verdict{Label: "yes", Score: 3},
		},
		{
			name: "code fence with language",
			raw:  "```json\n{\"label\":\"no\",\"score\":1}\n```",
			want: verdict{Label: "no", Score: 1},
		},
		{
			name: "wrapped in prose",
			raw:  "Sure! Here is the result: {\"label\":\"maybe\",\"score\":2} Let me know if you need more.",
			want: verdict{Label: "maybe", Score: 2},
		},
		{
			name: "nested braces in prose",
			raw:  `Answer: {"label":"x","score":4,"reason":"uses {braces}"} done`,
			want: verdict{Label: "x", Score: 4, Reason: "uses {braces}"},
		},
		{
			name:    "no json at all",
			raw:     "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "validator rejects missing field",
			raw:     `{"score":3}`,
			wantErr: true,
		},
		{
			name:    "truncated json",
			raw:     `{"label":"yes","score":`,
			wantErr: true,
		},
	}

	s := verdictSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Decode(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var pe *ParseError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "verdict", pe.Schema)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReturnsTypedValue(t *testing.T) {
	var s OutputSchema = verdictSchema()
	v, err := s.Parse(`{"label":"yes","score":5}`)
	require.NoError(t, err)

	got, ok := Value[verdict](v)
	require.True(t, ok)
	assert.Equal(t, 5, got.Score)
}

func TestDefinitionListsRequiredFields(t *testing.T) {
	var def struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(verdictSchema().Definition(), &def))

	assert.Equal(t, "object", def.Type)
	assert.Contains(t, def.Properties, "label")
	assert.Contains(t, def.Properties, "tags")
	assert.ElementsMatch(t, []string{"label", "score"}, def.Required)
}

func TestWithBracketsArrays(t *testing.T) {
	s := New[[]string]("queries", nil).WithBrackets('[', ']')

	got, err := s.Decode(`Queries follow: ["a b", "c d"] -- end`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b", "c d"}, got)

	// The original schema keeps the object bracket pair.
	_, err = New[[]string]("queries", nil).Decode(`Queries follow: ["a b"] -- end`)
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	got, ok := Extract("xx {a} yy {b} zz", '{', '}')
	require.True(t, ok)
	assert.Equal(t, "{a} yy {b}", got)

	_, ok = Extract("} wrong order {", '{', '}')
	assert.False(t, ok)
}

func TestParseErrorTruncatesRaw(t *testing.T) {
	long := make([]byte, 2*maxRawInError)
	for i := range long {
		long[i] = 'a'
	}
	_, err := verdictSchema().Decode(string(long))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Raw, maxRawInError)
}
