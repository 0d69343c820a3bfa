package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Redaction is one secret removed from a text.
type Redaction struct {
	RuleID  string `json:"rule_id"`
	Preview string `json:"preview"`
}

// Redactor replaces secrets found by the gitleaks default rule set with
// [REDACTED:rule-id:preview] markers. The marker keeps enough context for
// embeddings without storing the secret itself.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewRedactor loads the gitleaks default configuration.
func NewRedactor() (*Redactor, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &Redactor{detector: d}, nil
}

// Redact returns text with every detected secret replaced.
func (r *Redactor) Redact(text string) (string, []Redaction) {
	r.mu.Lock()
	findings := r.detector.DetectString(text)
	r.mu.Unlock()
	if len(findings) == 0 {
		return text, nil
	}

	// Longest secrets first so a secret containing another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	seen := make(map[string]struct{}, len(findings))
	redactions := make([]Redaction, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		if _, dup := seen[f.Secret]; dup {
			continue
		}
		seen[f.Secret] = struct{}{}
		preview := preview(f.Secret, 4)
		text = strings.ReplaceAll(text, f.Secret, fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview))
		redactions = append(redactions, Redaction{RuleID: f.RuleID, Preview: preview})
	}
	return text, redactions
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Scrub returns text with every detected secret replaced.
func (r *Redactor) Scrub(text string) string {
	out, _ := r.Redact(text)
	return out
}
