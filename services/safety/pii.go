package safety

import (
	"regexp"
	"sort"
	"strings"
)

// PIIType represents different types of PII that can be detected
type PIIType string

const (
	PIITypeEmail       PIIType = "email"
	PIITypePhone       PIIType = "phone"
	PIITypeSSN         PIIType = "ssn"
	PIITypeCreditCard  PIIType = "credit_card"
	PIITypeIPAddress   PIIType = "ip_address"
	PIITypeAddress     PIIType = "address"
	PIITypeDateOfBirth PIIType = "date_of_birth"
	PIITypePassport    PIIType = "passport"
)

const (
	contextWindow      = 50
	minPIIConfidence   = 0.5
	contextScoreNone   = 0.3
	contextScoreSingle = 0.6
	contextScoreMulti  = 0.9
)

// piiRule couples a pattern with its base confidence and the keywords that
// make a nearby match more credible.
type piiRule struct {
	Type            PIIType
	Pattern         *regexp.Regexp
	BaseConfidence  float64
	ContextKeywords []string
	validate        func(string) bool
}

var piiRules = []piiRule{
	{
		Type:            PIITypeEmail,
		Pattern:         regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`),
		BaseConfidence:  0.95,
		ContextKeywords: []string{"email", "contact", "reach", "send", "mail"},
	},
	{
		Type:            PIITypePhone,
		Pattern:         regexp.MustCompile(`(?i)\b(?:\+?1[-.]?)?\(?([0-9]{3})\)?[-.]?([0-9]{3})[-.]?([0-9]{4})\b`),
		BaseConfidence:  0.90,
		ContextKeywords: []string{"phone", "call", "contact", "mobile", "cell"},
	},
	{
		Type:            PIITypeSSN,
		Pattern:         regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`),
		BaseConfidence:  0.98,
		ContextKeywords: []string{"ssn", "social", "security", "number", "id"},
		validate:        looksLikeSSN,
	},
	{
		Type:            PIITypeCreditCard,
		Pattern:         regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|3[0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`),
		BaseConfidence:  0.92,
		ContextKeywords: []string{"card", "credit", "payment", "visa", "mastercard"},
	},
	{
		Type:            PIITypeIPAddress,
		Pattern:         regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		BaseConfidence:  0.85,
		ContextKeywords: []string{"ip", "address", "network", "server"},
	},
	{
		Type:            PIITypeAddress,
		Pattern:         regexp.MustCompile(`\b\d+(?:\s+[A-Za-z]+){1,4}?\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr)\b`),
		BaseConfidence:  0.75,
		ContextKeywords: []string{"address", "street", "location", "residence"},
	},
	{
		Type:            PIITypeDateOfBirth,
		Pattern:         regexp.MustCompile(`\b(?:0[1-9]|1[0-2])[/-](?:0[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`),
		BaseConfidence:  0.80,
		ContextKeywords: []string{"birth", "born", "date", "dob", "age"},
	},
	{
		Type:            PIITypePassport,
		Pattern:         regexp.MustCompile(`(?i)\b[A-Z]{1,2}[0-9]{6,9}\b`),
		BaseConfidence:  0.70,
		ContextKeywords: []string{"passport", "travel", "document", "id"},
	},
}

// DetectPII scans content for PII and scores every match by its surrounding
// context. Matches whose combined confidence falls below 0.5 are dropped.
func DetectPII(content string) DetectorResult {
	result := DetectorResult{}
	lower := strings.ToLower(content)

	for _, rule := range piiRules {
		for _, span := range rule.Pattern.FindAllStringIndex(content, -1) {
			value := content[span[0]:span[1]]
			if rule.validate != nil && !rule.validate(value) {
				continue
			}

			contextScore, hits := scoreContext(lower, span[0], span[1], rule.ContextKeywords)
			combined := rule.BaseConfidence * contextScore
			if combined < minPIIConfidence {
				continue
			}

			result.Items = append(result.Items, Finding{
				Type:       string(rule.Type),
				Value:      value,
				StartPos:   span[0],
				EndPos:     span[1],
				Confidence: combined,
				Keywords:   hits,
			})
			if combined > result.Confidence {
				result.Confidence = combined
			}
		}
	}

	result.Detected = len(result.Items) > 0
	return result
}

// scoreContext counts how many keywords appear within contextWindow
// characters on either side of a match.
func scoreContext(lower string, start, end int, keywords []string) (float64, []string) {
	from := start - contextWindow
	if from < 0 {
		from = 0
	}
	to := end + contextWindow
	if to > len(lower) {
		to = len(lower)
	}
	window := lower[from:to]

	var hits []string
	for _, kw := range keywords {
		if strings.Contains(window, kw) {
			hits = append(hits, kw)
		}
	}

	switch {
	case len(hits) >= 2:
		return contextScoreMulti, hits
	case len(hits) == 1:
		return contextScoreSingle, hits
	default:
		return contextScoreNone, hits
	}
}

// piiSpan is a raw pattern match used for redaction
type piiSpan struct {
	Type     PIIType
	StartPos int
	EndPos   int
}

// findPIISpans returns every raw PII match, regardless of context score,
// with overlapping matches collapsed to the earliest and longest.
func findPIISpans(content string) []piiSpan {
	var spans []piiSpan
	for _, rule := range piiRules {
		for _, span := range rule.Pattern.FindAllStringIndex(content, -1) {
			if rule.validate != nil && !rule.validate(content[span[0]:span[1]]) {
				continue
			}
			spans = append(spans, piiSpan{Type: rule.Type, StartPos: span[0], EndPos: span[1]})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartPos != spans[j].StartPos {
			return spans[i].StartPos < spans[j].StartPos
		}
		return spans[i].EndPos > spans[j].EndPos
	})

	merged := spans[:0]
	lastEnd := -1
	for _, s := range spans {
		if s.StartPos < lastEnd {
			continue
		}
		merged = append(merged, s)
		lastEnd = s.EndPos
	}
	return merged
}

// looksLikeSSN rejects area, group and serial numbers that are never issued
func looksLikeSSN(s string) bool {
	digits := strings.ReplaceAll(s, "-", "")
	if len(digits) != 9 {
		return false
	}

	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}
