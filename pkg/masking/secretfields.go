package masking

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedFieldValue replaces the value of any detected credential field.
const MaskedFieldValue = "[MASKED_CREDENTIAL]"

// secretFieldNames are JSON/YAML object keys treated as credential-shaped
// regardless of artifact type (generated configs, deploy manifests, env
// dumps embedded in a PRD or build artifact).
var secretFieldNames = map[string]bool{
	"password": true, "passwd": true, "secret": true, "secrets": true,
	"api_key": true, "apikey": true, "access_key": true, "access_token": true,
	"private_key": true, "client_secret": true, "auth_token": true, "token": true,
}

// SecretFieldMasker parses JSON or YAML artifact content and redacts the
// values of any object field whose name looks like a credential,
// regardless of how deeply it's nested.
type SecretFieldMasker struct{}

func (m *SecretFieldMasker) Name() string { return "secret_fields" }

// AppliesTo looks for the generic shape of a structured document before
// attempting the more expensive parse.
func (m *SecretFieldMasker) AppliesTo(data string) bool {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '[' || strings.Contains(data, ":")
}

// Mask tries JSON first, then YAML, then leaves data untouched if neither
// parses — structured masking is a bonus on top of the regex sweep, not a
// replacement for it.
func (m *SecretFieldMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked, ok := m.maskJSON(data); ok {
			return masked
		}
	}
	if masked, ok := m.maskYAML(data); ok {
		return masked
	}
	return data
}

func (m *SecretFieldMasker) maskJSON(data string) (string, bool) {
	var obj any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data, false
	}
	masked, changed := maskValue(obj)
	if !changed {
		return data, false
	}
	out, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return data, false
	}
	return string(out), true
}

func (m *SecretFieldMasker) maskYAML(data string) (string, bool) {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []any
	anyChanged := false
	for {
		var doc any
		err := decoder.Decode(&doc)
		if err != nil {
			break
		}
		if doc == nil {
			continue
		}
		masked, changed := maskValue(doc)
		anyChanged = anyChanged || changed
		documents = append(documents, masked)
	}
	if len(documents) == 0 || !anyChanged {
		return data, false
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data, false
		}
	}
	_ = encoder.Close()
	return buf.String(), true
}

// maskValue walks an arbitrary decoded JSON/YAML value, redacting string
// values under credential-shaped keys. Returns whether anything changed
// so callers can skip reserializing (and reformatting) untouched content.
func maskValue(v any) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		changed := false
		for k, child := range val {
			if secretFieldNames[strings.ToLower(k)] {
				out[k] = MaskedFieldValue
				changed = true
				continue
			}
			maskedChild, childChanged := maskValue(child)
			out[k] = maskedChild
			changed = changed || childChanged
		}
		return out, changed
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, child := range val {
			maskedChild, childChanged := maskValue(child)
			out[i] = maskedChild
			changed = changed || childChanged
		}
		return out, changed
	default:
		return v, false
	}
}
