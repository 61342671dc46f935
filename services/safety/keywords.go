package safety

import "strings"

// keywordCategory is a named keyword set with a fixed severity and confidence.
type keywordCategory struct {
	Name       string
	Keywords   []string
	Severity   Severity
	Confidence float64
}

var toxicityCategories = []keywordCategory{
	{
		Name:       "hate_speech",
		Keywords:   []string{"hate", "racist", "bigot", "discriminate", "supremacist"},
		Severity:   SeverityHigh,
		Confidence: 0.85,
	},
	{
		Name:       "violence",
		Keywords:   []string{"kill", "murder", "assault", "bomb", "terrorist", "attack"},
		Severity:   SeverityCritical,
		Confidence: 0.90,
	},
	{
		Name:       "harassment",
		Keywords:   []string{"harass", "bully", "stalk", "threaten", "intimidate"},
		Severity:   SeverityHigh,
		Confidence: 0.80,
	},
	{
		Name:       "self_harm",
		Keywords:   []string{"suicide", "self-harm", "cut", "overdose", "end it all"},
		Severity:   SeverityCritical,
		Confidence: 0.95,
	},
	{
		Name:       "sexual_content",
		Keywords:   []string{"porn", "sex", "nude", "explicit", "adult"},
		Severity:   SeverityMedium,
		Confidence: 0.75,
	},
}

var biasCategories = []keywordCategory{
	{
		Name:       "gender",
		Keywords:   []string{"women can't", "men are better", "female driver", "male nurse"},
		Severity:   SeverityMedium,
		Confidence: 0.75,
	},
	{
		Name:       "racial",
		Keywords:   []string{"race", "ethnicity", "skin color", "nationality"},
		Severity:   SeverityHigh,
		Confidence: 0.80,
	},
	{
		Name:       "age",
		Keywords:   []string{"old people", "young people", "boomer", "millennial"},
		Severity:   SeverityLow,
		Confidence: 0.70,
	},
	{
		Name:       "religious",
		Keywords:   []string{"religion", "faith", "belief", "god", "allah"},
		Severity:   SeverityMedium,
		Confidence: 0.75,
	},
}

// DetectToxicity reports toxic keyword categories present in content
func DetectToxicity(content string) DetectorResult {
	return detectCategories(content, toxicityCategories)
}

// DetectBias reports protected-category keywords present in content
func DetectBias(content string) DetectorResult {
	return detectCategories(content, biasCategories)
}

func detectCategories(content string, categories []keywordCategory) DetectorResult {
	result := DetectorResult{}
	lower := strings.ToLower(content)

	for _, category := range categories {
		var hits []string
		firstPos := -1
		for _, kw := range category.Keywords {
			if pos := indexAtWordStart(lower, kw); pos >= 0 {
				hits = append(hits, kw)
				if firstPos < 0 || pos < firstPos {
					firstPos = pos
				}
			}
		}
		if len(hits) == 0 {
			continue
		}

		result.Items = append(result.Items, Finding{
			Type:       category.Name,
			StartPos:   firstPos,
			EndPos:     firstPos + len(hits[0]),
			Confidence: category.Confidence,
			Severity:   category.Severity,
			Keywords:   hits,
		})
		if category.Confidence > result.Confidence {
			result.Confidence = category.Confidence
		}
	}

	result.Detected = len(result.Items) > 0
	return result
}

// indexAtWordStart finds kw in s where kw begins a word, so "cut" matches
// "cutting" but not "execute". Returns -1 when absent.
func indexAtWordStart(s, kw string) int {
	offset := 0
	for {
		i := strings.Index(s[offset:], kw)
		if i < 0 {
			return -1
		}
		pos := offset + i
		if pos == 0 || !isWordByte(s[pos-1]) {
			return pos
		}
		offset = pos + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
