package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gradeShape struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		cfg     RepairConfig
		wantOK  bool
		want    gradeShape
	}{
		{
			name:    "clean json as-is",
			content: `{"question_id":"q1","score":3}`,
			wantOK:  true,
			want:    gradeShape{QuestionID: "q1", Score: 3},
		},
		{
			name:    "markdown fenced json with extraction",
			content: "Here is the grade:\n```json\n{\"question_id\":\"q2\",\"score\":4}\n```\nDone.",
			cfg:     DefaultRepairConfig(),
			wantOK:  true,
			want:    gradeShape{QuestionID: "q2", Score: 4},
		},
		{
			name:    "fenced json without extraction fails",
			content: "```json\n{\"question_id\":\"q2\",\"score\":4}\n```",
			cfg:     RepairConfig{},
			wantOK:  false,
		},
		{
			name:    "prose around bare object",
			content: `The result is {"question_id":"q3","score":2} as requested.`,
			cfg:     DefaultRepairConfig(),
			wantOK:  true,
			want:    gradeShape{QuestionID: "q3", Score: 2},
		},
		{
			name:    "trailing comma repaired",
			content: `{"question_id":"q4","score":1,}`,
			cfg:     DefaultRepairConfig(),
			wantOK:  true,
			want:    gradeShape{QuestionID: "q4", Score: 1},
		},
		{
			name:    "missing closing brace repaired",
			content: `{"question_id":"q5","score":5`,
			cfg:     DefaultRepairConfig(),
			wantOK:  true,
			want:    gradeShape{QuestionID: "q5", Score: 5},
		},
		{
			name:    "plain prose is rejected",
			content: "I could not grade this question.",
			cfg:     DefaultRepairConfig(),
			wantOK:  false,
		},
		{
			name:    "empty content is rejected",
			content: "",
			cfg:     DefaultRepairConfig(),
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out gradeShape
			ok := DecodeStrict(tt.content, &out, tt.cfg)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, out)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("prefix {\"a\":1} suffix"))
	assert.Equal(t, "no braces here", ExtractJSON("no braces here"))
}

func TestRepairJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing comma in object", `{"a":1,}`, `{"a":1}`},
		{"trailing comma in array", `[1,2,]`, `[1,2]`},
		{"unbalanced braces", `{"a":{"b":1}`, `{"a":{"b":1}}`},
		{"unquoted keys", `{a:1}`, `{"a":1}`},
		{"single quotes without doubles", `{'a':'x'}`, `{"a":"x"}`},
		{"byte order mark stripped", "\uFEFF" + `{"a":1}`, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RepairJSON(tt.in))
		})
	}
}
