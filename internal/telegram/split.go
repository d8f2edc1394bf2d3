package telegram

import "strings"

// SplitText breaks a reply into chunks that fit a message size limit. The
// limit floors at 200 runes; overlong single lines are hard-cut with an
// ellipsis so one line can never exceed a chunk.
func SplitText(text string, maxChars int) []string {
	if maxChars < 200 {
		maxChars = 200
	}
	src := strings.TrimSpace(text)
	if src == "" {
		return []string{"(empty)"}
	}
	if len([]rune(src)) <= maxChars {
		return []string{src}
	}

	var chunks []string
	var buf []string
	size := 0

	flush := func() {
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = nil
			size = 0
		}
	}

	for _, line := range strings.Split(src, "\n") {
		candidate := line
		if runes := []rune(line); len(runes) > maxChars {
			candidate = string(runes[:maxChars-3]) + "..."
		}
		addLen := len([]rune(candidate))
		if len(buf) > 0 {
			addLen++
		}
		if size+addLen > maxChars {
			flush()
			addLen = len([]rune(candidate))
		}
		buf = append(buf, candidate)
		size += addLen
	}

	flush()
	return chunks
}
