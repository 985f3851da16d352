package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["transaction"],
	"properties": {
		"transaction": {
			"type": "object",
			"required": ["status"],
			"properties": {
				"status": {"type": "string"},
				"amount": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

func TestSchema_Validate(t *testing.T) {
	s := MustCompile(testSchema)

	tests := []struct {
		name      string
		doc       string
		valid     bool
		wantField string
	}{
		{"valid", `{"transaction":{"status":"successful","amount":1000}}`, true, ""},
		{"missing transaction", `{}`, false, "(root)"},
		{"missing status", `{"transaction":{}}`, false, "transaction"},
		{"wrong type", `{"transaction":{"status":5}}`, false, "transaction.status"},
		{"negative amount", `{"transaction":{"status":"x","amount":-1}}`, false, "transaction.amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Validate([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			if !tt.valid {
				require.NotEmpty(t, res.Errors)
				assert.Equal(t, tt.wantField, res.Errors[0].Field)
				assert.NotEmpty(t, res.Error())
			}
		})
	}
}

func TestSchema_UnparseableDocument(t *testing.T) {
	_, err := MustCompile(testSchema).Validate([]byte(`{not json`))
	assert.Error(t, err)
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile(`{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustCompile(`{`) })
}
