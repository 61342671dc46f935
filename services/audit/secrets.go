package audit

import (
	"regexp"
	"sort"
)

// SecretType names a kind of credential found in request text
type SecretType string

const (
	SecretAWSKey           SecretType = "aws_key"
	SecretGCPKey           SecretType = "gcp_key"
	SecretOpenAIKey        SecretType = "openai_key"
	SecretAnthropicKey     SecretType = "anthropic_key"
	SecretGitHubToken      SecretType = "github_token"
	SecretSlackToken       SecretType = "slack_token"
	SecretStripeKey        SecretType = "stripe_key"
	SecretJWT              SecretType = "jwt"
	SecretPrivateKey       SecretType = "private_key"
	SecretDatabaseURL      SecretType = "database_url"
	SecretConnectionString SecretType = "connection_string"
	SecretPassword         SecretType = "password"
	SecretToken            SecretType = "token"
	SecretAPIKey           SecretType = "api_key"
)

// minSecretConfidence drops the loose keyword patterns on their own
const minSecretConfidence = 0.8

// SecretMatch is one credential occurrence
type SecretMatch struct {
	Type       SecretType
	Start      int
	End        int
	Confidence float64
}

type secretPattern struct {
	kind       SecretType
	re         *regexp.Regexp
	confidence float64
	// group selects the submatch to redact; 0 is the whole match
	group int
}

var secretPatterns = []secretPattern{
	{SecretAWSKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0.95, 0},
	{SecretGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), 0.95, 0},
	{SecretAnthropicKey, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{32,}`), 0.95, 0},
	{SecretOpenAIKey, regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{32,}`), 0.9, 0},
	{SecretGitHubToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), 0.95, 0},
	{SecretSlackToken, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}`), 0.9, 0},
	{SecretStripeKey, regexp.MustCompile(`\b[sr]k_(?:live|test)_[0-9a-zA-Z]{24,}\b`), 0.95, 0},
	{SecretJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), 0.9, 0},
	{SecretPrivateKey, regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?(?:-----END (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----|$)`), 0.99, 0},
	{SecretDatabaseURL, regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis)://[^\s'"/:@]+:[^\s'"@]+@[^\s'"]+`), 0.9, 0},
	{SecretConnectionString, regexp.MustCompile(`(?i)\b(?:Server|Data Source)=[^;]+;[^\n]*?Password=[^;\s]+`), 0.85, 0},
	{SecretPassword, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})`), 0.8, 1},
	{SecretToken, regexp.MustCompile(`(?i)\b(?:access[_\-]?)?token\s*[:=]\s*['"]?([A-Za-z0-9_\-\.]{20,})`), 0.8, 1},
	{SecretToken, regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-\.]{20,})`), 0.85, 1},
	{SecretAPIKey, regexp.MustCompile(`(?i)\bapi[_\-]?key\s*[:=]\s*['"]?([A-Za-z0-9_\-]{20,})`), 0.85, 1},
}

// DetectSecrets finds credentials in text. Overlapping matches keep the one
// with the highest confidence.
func DetectSecrets(text string) []SecretMatch {
	var found []SecretMatch
	for _, p := range secretPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*p.group], loc[2*p.group+1]
			if start < 0 {
				continue
			}
			found = append(found, SecretMatch{Type: p.kind, Start: start, End: end, Confidence: p.confidence})
		}
	}
	return dedupeSecrets(found)
}

// RedactSecrets replaces every confident credential match with a typed
// placeholder
func RedactSecrets(text string) string {
	matches := DetectSecrets(text)
	if len(matches) == 0 {
		return text
	}

	// Replace back to front so earlier offsets stay valid
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start > matches[j].Start })

	out := text
	for _, m := range matches {
		if m.Confidence < minSecretConfidence {
			continue
		}
		out = out[:m.Start] + secretPlaceholder(m.Type) + out[m.End:]
	}
	return out
}

func secretPlaceholder(kind SecretType) string {
	return "[" + string(kind) + "_redacted]"
}

func dedupeSecrets(matches []SecretMatch) []SecretMatch {
	if len(matches) <= 1 {
		return matches
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].End-matches[i].Start > matches[j].End-matches[j].Start
	})

	kept := make([]SecretMatch, 0, len(matches))
	for _, m := range matches {
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && k.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	return kept
}
