package generator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxPostLength is the platform's hard cap, in characters.
const MaxPostLength = 280

// BuildPrompt constructs the LLM prompt for one post on a topic
func BuildPrompt(topic string) string {
	var sb strings.Builder

	sb.WriteString("You write posts for X (formerly Twitter) on behalf of a professional account.\n\n")

	sb.WriteString("## Topic\n")
	sb.WriteString(fmt.Sprintf("%s\n\n", strings.TrimSpace(topic)))

	sb.WriteString("## Task\n\n")
	sb.WriteString("1. Pick one timely, concrete angle on the topic that people are discussing now.\n")
	sb.WriteString("2. Write one engaging, insightful post about that angle.\n")
	sb.WriteString("3. Make it sound natural and human without losing factual accuracy.\n")
	sb.WriteString("4. Check tone, clarity and compliance with X's rules. No misleading claims.\n\n")

	sb.WriteString("## Rules\n\n")
	sb.WriteString(fmt.Sprintf("- At most %d characters including hashtags.\n", MaxPostLength))
	sb.WriteString("- At most two hashtags. No emoji walls. No links.\n")
	sb.WriteString("- Reply with the post text only: no quotes, no preamble, no explanation.\n")

	return sb.String()
}

var (
	fenceRe   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")
	labelRe   = regexp.MustCompile(`(?i)^(final approved tweet|final tweet|tweet|post)\s*:\s*`)
	spacesRe  = regexp.MustCompile(`[ \t]+`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
)

// CleanPost strips the wrapping the model tends to add and enforces the
// length cap, cutting at a word boundary where possible.
func CleanPost(raw string) string {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))

	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}
	text = labelRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(text) >= 2 && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			text = strings.TrimSpace(text[len(pair[0]) : len(text)-len(pair[1])])
		}
	}

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(l, " "))
	}
	text = newlineRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")

	return truncate(text, MaxPostLength)
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit-1])
	if i := strings.LastIndexAny(cut, " \n"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n.,;:-") + "…"
}
