package config

// MaskingPatternConfig is one regex-based data-masking rule applied to
// artifact content before it reaches the privacy guard or the run
// ledger (spec §4.3 privacy guard, "PII redaction").
type MaskingPatternConfig struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// BuiltinMaskingPatterns returns the default credential/PII pattern set.
// User YAML may add custom patterns on top of these via pattern groups.
func BuiltinMaskingPatterns() map[string]MaskingPatternConfig {
	return map[string]MaskingPatternConfig{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-]{20,})["\']?`,
			Replacement: `"api_key": "[MASKED_API_KEY]"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["\']?\s*[:=]\s*["\']?([^"\'\s\n]{6,})["\']?`,
			Replacement: `"password": "[MASKED_PASSWORD]"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"token": "[MASKED_TOKEN]"`,
			Description: "Access tokens",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `[MASKED_EMAIL]`,
			Description: "Email addresses",
		},
		"ssn": {
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Replacement: `[MASKED_SSN]`,
			Description: "US Social Security numbers",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `[MASKED_SSH_KEY]`,
			Description: "SSH public keys",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
			Description: "Private keys",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `[MASKED_CERTIFICATE]`,
			Description: "PEM certificates and key blocks",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["\']?\s*[:=]\s*["\']?(AKIA[A-Z0-9]{16})["\']?`,
			Replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
			Description: "AWS access keys",
		},
		"github_token": {
			Pattern:     `(?i)gh[ps]_[A-Za-z0-9_]{36,255}`,
			Replacement: `[MASKED_GITHUB_TOKEN]`,
			Description: "GitHub tokens",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `[MASKED_SLACK_TOKEN]`,
			Description: "Slack tokens",
		},
	}
}

// BuiltinMaskingPatternGroups names sets of BuiltinMaskingPatterns keys
// that a phase can reference together.
func BuiltinMaskingPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"secrets":  {"api_key", "password", "token", "private_key"},
		"security": {"api_key", "password", "token", "certificate", "email", "ssh_key"},
		"cloud":    {"aws_access_key", "github_token", "slack_token"},
		"pii":      {"email", "ssn"},
		"all": {
			"api_key", "password", "token", "email", "ssn", "ssh_key",
			"private_key", "certificate", "aws_access_key", "github_token", "slack_token",
		},
	}
}
