package safety

import (
	"math"
	"regexp"
)

const (
	jailbreakBaseConfidence = 0.7
	jailbreakStep           = 0.02
	jailbreakMaxConfidence  = 0.95
)

type jailbreakPattern struct {
	Category string
	Pattern  *regexp.Regexp
}

// Ordered from generic to specific; later patterns score higher.
var jailbreakPatterns = []jailbreakPattern{
	{"instruction_override", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:(?:previous|prior|above)\s+)?(?:instructions?|rules?)`)},
	{"instruction_override", regexp.MustCompile(`(?i)forget\s+(?:all\s+)?(?:(?:previous|prior|above)\s+)?(?:instructions?|rules?)`)},
	{"instruction_override", regexp.MustCompile(`(?i)disregard\s+(?:all\s+)?(?:(?:previous|prior|above)\s+)?(?:instructions?|rules?)`)},
	{"role_play", regexp.MustCompile(`(?i)act\s+as\s+(?:if\s+)?(?:you\s+are\s+)?(?:a\s+)?(?:different\s+)?(?:person|character|system)`)},
	{"role_play", regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`)},
	{"role_play", regexp.MustCompile(`(?i)role-?play\s+as`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)(?:what\s+(?:is|are)\s+)?your\s+(?:system\s+)?(?:prompt|instructions?)|system\s+prompt`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)(?:show|reveal|print|share|repeat)\s+(?:me\s+)?(?:your|the)\s+(?:(?:system|hidden|initial|original)\s+)?(?:prompt|instructions?)`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)tell\s+me\s+(?:your|the)\s+(?:system\s+)?(?:prompt|instructions?|rules)`)},
	{"safety_bypass", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:your\s+)?(?:safety\s+)?(?:measures?|filters?|guardrails?|guidelines)`)},
	{"safety_bypass", regexp.MustCompile(`(?i)bypass\s+(?:all\s+)?(?:your\s+)?(?:safety\s+)?(?:measures?|filters?|guardrails?|restrictions?)`)},
	{"safety_bypass", regexp.MustCompile(`(?i)disable\s+(?:all\s+)?(?:your\s+)?(?:safety\s+)?(?:measures?|filters?|guardrails?|restrictions?)`)},
	{"do_anything_now", regexp.MustCompile(`(?i)you\s+are\s+(?:now\s+)?DAN\b|\bDAN\s+mode|do\s+anything\s+now`)},
	{"do_anything_now", regexp.MustCompile(`(?i)you\s+can\s+(?:now\s+)?(?:do|say)\s+anything`)},
	{"do_anything_now", regexp.MustCompile(`(?i)(?:you\s+are\s+)?no\s+longer\s+bound\s+by\s+(?:any\s+)?(?:rules?|guidelines|restrictions?)`)},
}

// jailbreakConfidence grows with pattern index and is capped at 0.95
func jailbreakConfidence(index int) float64 {
	return math.Min(jailbreakBaseConfidence+float64(index)*jailbreakStep, jailbreakMaxConfidence)
}

// DetectJailbreak matches content against the ordered jailbreak patterns.
// Each pattern contributes at most one finding.
func DetectJailbreak(content string) DetectorResult {
	result := DetectorResult{}

	for i, p := range jailbreakPatterns {
		loc := p.Pattern.FindStringIndex(content)
		if loc == nil {
			continue
		}
		confidence := jailbreakConfidence(i)
		result.Items = append(result.Items, Finding{
			Type:       p.Category,
			Value:      content[loc[0]:loc[1]],
			StartPos:   loc[0],
			EndPos:     loc[1],
			Confidence: confidence,
			Severity:   SeverityHigh,
		})
		if confidence > result.Confidence {
			result.Confidence = confidence
		}
	}

	result.Detected = len(result.Items) > 0
	return result
}
