// Package masking redacts credentials and PII from artifact content before
// it is judged by the Gatekeeper's privacy guard or persisted to the run
// ledger (spec §4.3). It mirrors the Gatekeeper's PIIScanner interface so
// *Service can be wired directly into pkg/gatekeeper.PrivacyGuard.
package masking

// Masker is a code-based redactor that needs structural awareness beyond
// regex matching — parsing JSON/YAML to find credential-shaped fields
// wherever they're nested, rather than matching `key: value` text.
type Masker interface {
	// Name identifies this masker; must match a name referenced by a
	// pattern group.
	Name() string

	// AppliesTo performs a cheap pre-check (no parsing) before Mask does
	// the expensive structural work.
	AppliesTo(data string) bool

	// Mask returns data with any credential-shaped fields redacted.
	// Defensive: returns the original data unchanged on parse errors.
	Mask(data string) string
}
