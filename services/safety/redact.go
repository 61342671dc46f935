package safety

// placeholderFor returns the fixed token that replaces a PII span
func placeholderFor(t PIIType) string {
	switch t {
	case PIITypeEmail:
		return "[EMAIL]"
	case PIITypePhone:
		return "[PHONE]"
	case PIITypeSSN:
		return "[SSN]"
	case PIITypeCreditCard:
		return "[CREDIT_CARD]"
	case PIITypeIPAddress:
		return "[IP_ADDRESS]"
	case PIITypeAddress:
		return "[ADDRESS]"
	case PIITypeDateOfBirth:
		return "[DATE_OF_BIRTH]"
	case PIITypePassport:
		return "[PASSPORT]"
	default:
		return "[REDACTED]"
	}
}

// Redact replaces every PII match with its placeholder token. Spans are
// rewritten from the end of the string backwards so earlier offsets stay valid;
// text outside the spans is left byte-identical.
func Redact(content string) string {
	spans := findPIISpans(content)
	if len(spans) == 0 {
		return content
	}

	result := content
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		result = result[:s.StartPos] + placeholderFor(s.Type) + result[s.EndPos:]
	}
	return result
}
