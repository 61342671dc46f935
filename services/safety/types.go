package safety

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects which detectors run and whether redaction applies.
type Mode string

const (
	ModeInput  Mode = "input"
	ModeOutput Mode = "output"
)

// Level is the configured strictness of the evaluator.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Threshold returns the risk score at or above which content is unsafe.
func (l Level) Threshold() float64 {
	switch l {
	case LevelLow:
		return 0.3
	case LevelMedium:
		return 0.6
	case LevelHigh:
		return 0.8
	case LevelCritical:
		return 0.9
	default:
		return 0.6
	}
}

// ParseLevel converts a config string into a Level
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return l, nil
	default:
		return "", fmt.Errorf("unknown safety level %q", s)
	}
}

// Severity labels how serious a finding or violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ViolationKind is the single-label summary of why content failed.
// It is derived from the per-detector breakdown and the score band, so treat
// it as a severity label rather than a precise cause.
type ViolationKind string

const (
	ViolationNone          ViolationKind = "NONE"
	ViolationPII           ViolationKind = "PII"
	ViolationToxicity      ViolationKind = "TOXICITY"
	ViolationJailbreak     ViolationKind = "JAILBREAK"
	ViolationBias          ViolationKind = "BIAS"
	ViolationContentFilter ViolationKind = "CONTENT_FILTER"
)

// Detector names the four risk detectors.
type Detector string

const (
	DetectorPII       Detector = "pii"
	DetectorToxicity  Detector = "toxicity"
	DetectorJailbreak Detector = "jailbreak"
	DetectorBias      Detector = "bias"
)

// weight returns the contribution of a detector to the risk score
func (d Detector) weight() float64 {
	switch d {
	case DetectorPII:
		return 0.4
	case DetectorToxicity:
		return 0.3
	case DetectorJailbreak:
		return 0.2
	case DetectorBias:
		return 0.1
	default:
		return 0
	}
}

// Finding is one match produced by a detector
type Finding struct {
	Type       string   `json:"type"`
	Value      string   `json:"value,omitempty"`
	StartPos   int      `json:"start_pos"`
	EndPos     int      `json:"end_pos"`
	Confidence float64  `json:"confidence"`
	Severity   Severity `json:"severity,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// DetectorResult is the output of a single detector.
type DetectorResult struct {
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`
	Items      []Finding `json:"items,omitempty"`
}

// Result is the outcome of one safety evaluation. Detectors is the primary
// output; ViolationKind and Severity are derived conveniences.
type Result struct {
	CheckID         string                      `json:"check_id"`
	Mode            Mode                        `json:"mode"`
	Safe            bool                        `json:"safe"`
	ViolationKind   ViolationKind               `json:"violation_kind"`
	Severity        Severity                    `json:"severity,omitempty"`
	RiskScore       float64                     `json:"risk_score"`
	Confidence      float64                     `json:"confidence"`
	Detectors       map[Detector]DetectorResult `json:"detectors"`
	RedactedContent *string                     `json:"redacted_content,omitempty"`
	Timestamp       time.Time                   `json:"timestamp"`
}

// PIIOnly reports whether PII is the only detector that fired.
func (r *Result) PIIOnly() bool {
	if !r.Detectors[DetectorPII].Detected {
		return false
	}
	for name, d := range r.Detectors {
		if name != DetectorPII && d.Detected {
			return false
		}
	}
	return true
}

// FiredDetectors lists detectors that reported a finding, in weight order.
func (r *Result) FiredDetectors() []Detector {
	var fired []Detector
	for _, name := range []Detector{DetectorPII, DetectorToxicity, DetectorJailbreak, DetectorBias} {
		if r.Detectors[name].Detected {
			fired = append(fired, name)
		}
	}
	return fired
}
