package skills

import (
	"regexp"
	"strings"
)

// DefaultPatternSets returns the built-in trigger patterns for the stock
// desktop skills. External skill packages add their own via the loader or
// Manager.RegisterPatterns.
func DefaultPatternSets() []*PatternSet {
	return []*PatternSet{
		{
			SkillID: "screen_capture",
			Patterns: []string{
				"screenshot",
				`take\s+a\s+(screenshot|screen\s*shot|capture)`,
				`capture\s+(the\s+|my\s+)?screen`,
			},
			ConfidenceBoost: 0.30,
			Examples:        []string{"take a screenshot", "capture my screen"},
		},
		{
			SkillID: "web_search",
			Patterns: []string{
				`search\s+(the\s+web\s+)?for\s+(?P<query>.+)`,
				`look\s+up\s+(?P<query>.+)`,
				`google\s+(?P<query>.+)`,
			},
			ConfidenceBoost: 0.25,
			Examples:        []string{"search for golang generics", "look up the weather"},
		},
		{
			SkillID: "email",
			Patterns: []string{
				`(send|write|compose)\s+(an\s+)?e?mail`,
				`check\s+(my\s+)?(inbox|e?mail)`,
			},
			ConfidenceBoost: 0.30,
			Extractors: map[string]Extractor{
				"recipient": ExtractEmailAddress,
			},
			Examples: []string{"send an email to bob", "check my inbox"},
		},
		{
			SkillID: "calendar",
			Patterns: []string{
				`(create|add|schedule)\s+(an?\s+)?(appointment|meeting|event)`,
				`what('s| is)\s+on\s+my\s+calendar`,
			},
			ConfidenceBoost: 0.30,
			Examples:        []string{"schedule a meeting tomorrow", "what's on my calendar"},
		},
		{
			SkillID: "document_convert",
			Patterns: []string{
				`convert\s+(?P<source>\S+\.\w+)\s+to\s+(?P<format>\w+)`,
				`(export|save)\s+.+\s+as\s+(pdf|docx|html|markdown)`,
			},
			ConfidenceBoost: 0.25,
			Examples:        []string{"convert notes.docx to pdf"},
		},
		{
			SkillID: "task_tracker",
			Patterns: []string{
				`(add|create)\s+(a\s+)?(task|todo|to-do)`,
				`remind\s+me\s+to\s+(?P<task>.+)`,
				`(list|show)\s+(my\s+)?(tasks|todos)`,
			},
			ConfidenceBoost: 0.30,
			Examples:        []string{"add a task to buy milk", "remind me to call mom"},
		},
	}
}

var emailAddressRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractEmailAddress pulls the first e-mail address out of the input.
func ExtractEmailAddress(input string) any {
	if m := emailAddressRe.FindString(input); m != "" {
		return m
	}
	return nil
}

// ExtractQuotedText pulls the first double-quoted span out of the input.
func ExtractQuotedText(input string) any {
	start := strings.Index(input, `"`)
	if start == -1 {
		return nil
	}
	end := strings.Index(input[start+1:], `"`)
	if end == -1 {
		return nil
	}
	return input[start+1 : start+1+end]
}
