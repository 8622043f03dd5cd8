package masking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pipeforge/runcore/pkg/config"
)

// ArtifactReader loads an artifact's raw content by ID. Satisfied by
// whatever artifact store the process is wired with (object storage,
// database blob column).
type ArtifactReader interface {
	ReadArtifact(ctx context.Context, artifactID string) (content string, err error)
}

// Service applies regex and structural data masking to artifact content.
// Compiled once at startup; safe for concurrent use.
type Service struct {
	reader   ArtifactReader
	patterns map[string]*compiledPattern
	groups   map[string][]string
	maskers  []Masker
	group    string // the pattern group this Service scans/masks with
}

// New creates a masking Service. group selects which
// config.BuiltinMaskingPatternGroups entry is applied (spec default:
// "security"). patterns/groups may be nil to use the builtin defaults.
func New(reader ArtifactReader, group string, patterns map[string]config.MaskingPatternConfig, groups map[string][]string) *Service {
	if patterns == nil {
		patterns = config.BuiltinMaskingPatterns()
	}
	if groups == nil {
		groups = config.BuiltinMaskingPatternGroups()
	}
	if group == "" {
		group = "security"
	}
	return &Service{
		reader:   reader,
		patterns: compilePatterns(patterns),
		groups:   groups,
		maskers:  []Masker{&SecretFieldMasker{}},
		group:    group,
	}
}

// MaskContent applies structural masking then the regex sweep to content,
// returning the redacted text. Fails closed: a structural-masking panic
// recovery is unnecessary here since Masker implementations are required
// to be defensive, but an empty group resolution still falls through to
// the unmodified content rather than erroring.
func (s *Service) MaskContent(content string) string {
	if content == "" {
		return content
	}

	masked := content
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}

	for _, pattern := range resolveGroup(s.groups, s.patterns, s.group) {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}

// Scan implements pkg/gatekeeper.PIIScanner: it reads each artifact and
// reports one finding per artifact where masking would change the
// content, i.e. where the artifact as produced still carries unredacted
// credentials or PII (spec §4.3 privacy guard).
func (s *Service) Scan(ctx context.Context, artifactIDs []string) ([]string, error) {
	var findings []string
	for _, id := range artifactIDs {
		content, err := s.reader.ReadArtifact(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("masking: read artifact %s: %w", id, err)
		}
		if content == "" {
			continue
		}
		if masked := s.MaskContent(content); masked != content {
			slog.Warn("masking: unredacted credential or PII found in artifact", "artifact_id", id)
			findings = append(findings, fmt.Sprintf("unredacted credential or PII pattern in artifact %s", id))
		}
	}
	return findings, nil
}
