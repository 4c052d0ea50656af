package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// RepairConfig controls how much leeway structured-output parsing gives a
// non-conforming backend response before declaring a contract violation.
type RepairConfig struct {
	// EnableExtraction pulls JSON out of markdown code fences and
	// surrounding prose.
	EnableExtraction bool

	// EnableRepair fixes common JSON syntax errors: trailing commas,
	// missing closing brackets, unquoted keys.
	EnableRepair bool
}

// DefaultRepairConfig enables one-shot extraction and syntax repair, the
// production setting. Strict parsers pass a zero RepairConfig instead.
func DefaultRepairConfig() RepairConfig {
	return RepairConfig{EnableExtraction: true, EnableRepair: true}
}

// DecodeStrict parses untrusted backend text into v. It first tries the
// content as-is, then (per config) after extraction from markdown, then
// after syntax repair. A false return means the content cannot be decoded
// into the declared shape; callers surface that as a contract violation,
// never as a retryable failure.
func DecodeStrict(content string, v any, cfg RepairConfig) bool {
	if json.Unmarshal([]byte(content), v) == nil {
		return true
	}

	if cfg.EnableExtraction {
		if extracted := ExtractJSON(content); extracted != content {
			if json.Unmarshal([]byte(extracted), v) == nil {
				return true
			}
			if cfg.EnableRepair {
				if json.Unmarshal([]byte(RepairJSON(extracted)), v) == nil {
					return true
				}
			}
		}
	}

	if cfg.EnableRepair {
		if repaired := RepairJSON(content); repaired != content {
			if json.Unmarshal([]byte(repaired), v) == nil {
				return true
			}
		}
	}

	return false
}

var (
	fencePatterns = []*regexp.Regexp{
		regexp.MustCompile("(?s)```json\n(.*?)\n```"),
		regexp.MustCompile("(?s)```\n(.*?)\n```"),
		regexp.MustCompile("`(\\{.*?\\})`"),
	}
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`(\{|,)\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// ExtractJSON extracts a JSON document from markdown or mixed text content.
// Searches code blocks first, then falls back to the outermost brace pair.
func ExtractJSON(content string) string {
	for _, re := range fencePatterns {
		if matches := re.FindStringSubmatch(content); len(matches) > 1 {
			return matches[1]
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && end > start {
		return content[start : end+1]
	}

	return content
}

// RepairJSON fixes common JSON syntax errors in backend responses: trailing
// commas, unbalanced braces and brackets, unquoted keys, and stray BOMs.
func RepairJSON(content string) string {
	repaired := trailingCommaRe.ReplaceAllString(content, "$1")

	openBraces := strings.Count(repaired, "{") - strings.Count(repaired, "}")
	openBrackets := strings.Count(repaired, "[") - strings.Count(repaired, "]")
	for range openBraces {
		repaired += "}"
	}
	for range openBrackets {
		repaired += "]"
	}

	repaired = unquotedKeyRe.ReplaceAllString(repaired, `$1"$2":`)

	if !strings.Contains(repaired, `"`) && strings.Contains(repaired, `'`) {
		repaired = strings.ReplaceAll(repaired, `'`, `"`)
	}

	repaired = strings.TrimPrefix(repaired, "\uFEFF")
	return strings.TrimSpace(repaired)
}
