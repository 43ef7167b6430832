package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// Some models leak reasoning tags or tool-call XML into their text content.
// CleanAssistantText strips those artifacts before the text reaches the
// channel; the transcript keeps whatever the model actually produced.

var thinkingTagPattern = regexp.MustCompile(`(?s)<(think|thinking|thought)>.*?</(think|thinking|thought)>`)

var toolXMLPattern = regexp.MustCompile(`(?s)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`)

var toolXMLIndicators = []string{
	"<function_call",
	"<tool_call",
	"<tool_use",
	"<invoke",
	"<parameter name=",
}

func CleanAssistantText(text string) string {
	if text == "" {
		return text
	}
	original := text

	text = thinkingTagPattern.ReplaceAllString(text, "")
	text = stripToolXML(text)
	text = strings.TrimSpace(text)

	if text != original {
		slog.Debug("cleaned assistant text",
			"original_len", len(original),
			"cleaned_len", len(text),
		)
	}
	return text
}

func stripToolXML(text string) string {
	lower := strings.ToLower(text)
	found := false
	for _, ind := range toolXMLIndicators {
		if strings.Contains(lower, ind) {
			found = true
			break
		}
	}
	if !found {
		return text
	}
	cleaned := strings.TrimSpace(toolXMLPattern.ReplaceAllString(text, ""))
	if cleaned == "" {
		slog.Warn("dropped response that was entirely tool-call XML", "len", len(text))
	}
	return cleaned
}
