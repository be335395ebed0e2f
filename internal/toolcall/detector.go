package toolcall

import (
	"strings"
	"unicode"
)

// Decision is the detector's verdict for one token.
type Decision struct {
	// Forward is text that is now safe to show the user. It may be empty
	// while a marker is building, and it may carry text withheld by earlier
	// tokens once they are proven harmless.
	Forward string
	// Detected reports that a complete tool call marker is present. The
	// caller should stop consuming the pass.
	Detected bool
}

// Detector watches one generation pass and decides, token by token, whether
// text can be forwarded or must be held back because it may be the start of
// a tool call. A Detector is not safe for concurrent use; it belongs to the
// goroutine reading the pass.
type Detector struct {
	acc      strings.Builder
	sent     int
	detected bool
}

func NewDetector() *Detector {
	return &Detector{}
}

// Feed adds token to the pass and returns what may be forwarded.
func (d *Detector) Feed(token string) Decision {
	if d.detected {
		return Decision{Detected: true}
	}
	d.acc.WriteString(token)
	text := d.acc.String()

	if completed(text) {
		d.detected = true
		return Decision{Detected: true}
	}
	if building(text) {
		return Decision{}
	}

	hold := danglingPrefix(text)
	if f := pendingFence(text); f > hold {
		hold = f
	}
	safe := len(text) - hold
	if safe <= d.sent {
		return Decision{}
	}
	out := text[d.sent:safe]
	d.sent = safe
	return Decision{Forward: out}
}

// Flush returns the withheld tail of the pass with any tool call markup
// removed. Call it once the pass is over, or after a detected call turned
// out to be unparseable. Text already forwarded is never returned again.
func (d *Detector) Flush() string {
	text := d.acc.String()
	if d.sent >= len(text) {
		return ""
	}
	tail := text[d.sent:]
	d.sent = len(text)

	cleaned := taggedPattern.ReplaceAllString(tail, "")
	if i := strings.Index(cleaned, OpenTag); i >= 0 {
		cleaned = cleaned[:i]
	}
	cleaned = cleaned[:len(cleaned)-danglingPrefix(cleaned)]
	if cleaned != tail {
		cleaned = strings.TrimRightFunc(cleaned, unicode.IsSpace)
	}
	if strings.TrimSpace(cleaned) == "" {
		return ""
	}
	return cleaned
}

// Text is everything the pass produced so far, forwarded or not.
func (d *Detector) Text() string {
	return d.acc.String()
}

// Detected reports whether a complete marker has been seen.
func (d *Detector) Detected() bool {
	return d.detected
}

func completed(text string) bool {
	if open := strings.Index(text, OpenTag); open >= 0 && strings.Contains(text[open:], CloseTag) {
		return true
	}
	return strings.Count(text, Fence) >= 2 && strings.Contains(text, KeyLiteral)
}

func building(text string) bool {
	if open := strings.Index(text, OpenTag); open >= 0 && !strings.Contains(text[open:], CloseTag) {
		return true
	}
	return strings.Count(text, Fence) == 1 && strings.Contains(text, KeyLiteral)
}

// danglingPrefix returns the length of the longest proper prefix of OpenTag
// that text ends with.
func danglingPrefix(text string) int {
	n := len(OpenTag) - 1
	if len(text) < n {
		n = len(text)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(text, OpenTag[:n]) {
			return n
		}
	}
	return 0
}

// pendingFence returns how many trailing bytes belong to a fence that could
// still open a fenced call: a partial fence, or an unclosed fence followed by
// nothing but an optional json tag, whitespace and the start of an object.
func pendingFence(text string) int {
	if strings.Count(text, Fence)%2 == 0 {
		ticks := len(text) - len(strings.TrimRight(text, "`"))
		return ticks % len(Fence)
	}
	open := strings.LastIndex(text, Fence)
	rest := text[open+len(Fence):]
	switch {
	case strings.HasPrefix(rest, "json"):
		rest = rest[len("json"):]
	case strings.HasPrefix("json", rest):
		return len(text) - open
	}
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	if rest == "" || rest[0] == '{' {
		return len(text) - open
	}
	return 0
}
