package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuralValidator_Validate(t *testing.T) {
	v := NewStructuralValidator(map[string]TargetSchema{
		"builder": {
			"summary":    {Kind: FieldString, Required: true},
			"cost_usd":   {Kind: FieldNumber, Required: true},
			"artifacts":  {Kind: FieldArray, Required: false},
		},
	})

	cases := []struct {
		name    string
		target  string
		output  map[string]any
		wantErr bool
	}{
		{"unknown target passes", "unregistered", map[string]any{}, false},
		{"valid output", "builder", map[string]any{"summary": "done", "cost_usd": 1.5}, false},
		{"missing required field", "builder", map[string]any{"cost_usd": 1.5}, true},
		{"wrong type", "builder", map[string]any{"summary": "done", "cost_usd": "not a number"}, true},
		{"optional field absent is fine", "builder", map[string]any{"summary": "done", "cost_usd": 0}, false},
		{"optional field wrong type rejected", "builder", map[string]any{"summary": "done", "cost_usd": 0, "artifacts": "not an array"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.target, tc.output)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStructuralValidator_Register_AddsSchemaAtRuntime(t *testing.T) {
	v := NewStructuralValidator(nil)
	assert.NoError(t, v.Validate("qav", map[string]any{}))

	v.Register("qav", TargetSchema{"passed": {Kind: FieldBool, Required: true}})
	assert.Error(t, v.Validate("qav", map[string]any{}))
	assert.NoError(t, v.Validate("qav", map[string]any{"passed": true}))
}
