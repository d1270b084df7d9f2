// Package transcript reconciles cumulative transcript snapshots into
// incremental deltas. The remote protocol redelivers the whole-so-far text
// of a turn on every update, so deltas must be derived by diffing against
// the previously seen cumulative string. For assistant output the package
// also separates spoken text from inline <internal>...</internal> thought
// annotations.
package transcript

import (
	"regexp"
	"strings"
	"time"
)

// Direction selects which side of the conversation a reconciler tracks.
type Direction int

const (
	// Input is user speech transcribed by the remote service.
	Input Direction = iota
	// Output is assistant speech; internal-thought tags are stripped.
	Output
)

// MaxThoughtChars caps the display length of an extracted thought.
const MaxThoughtChars = 280

// duplicateWindow suppresses identical deltas redelivered in quick
// succession by the protocol.
const duplicateWindow = 1200 * time.Millisecond

var (
	completeThoughtRe = regexp.MustCompile(`(?s)<internal>(.*?)</internal>`)
	multiSpaceRe      = regexp.MustCompile(` +`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
	sentenceEndRe     = regexp.MustCompile(`[.!?]\s*$`)
)

// Update is the result of applying one cumulative snapshot.
type Update struct {
	// Delta is the incremental spoken text. For corrections it is the
	// full replacement text.
	Delta string
	// IsCorrection is set when the model backtracked and Delta replaces
	// the turn text seen so far.
	IsCorrection bool
	// Thoughts are internal-thought annotations not emitted before.
	// Output direction only.
	Thoughts []string
}

// Reconciler derives deltas for one direction. It is not safe for
// concurrent use; the receive loop is its only writer.
type Reconciler struct {
	direction Direction

	lastCumulative string
	lastSpoken     string
	emittedThought int

	lastDelta   string
	lastDeltaAt time.Time

	now func() time.Time
}

// NewReconciler returns a reconciler for the given direction.
func NewReconciler(d Direction) *Reconciler {
	return &Reconciler{direction: d, now: time.Now}
}

// Reset clears all streaming state. Called on turn completion and on
// reconnect, so a fresh connection cannot duplicate deltas from a dead one.
func (r *Reconciler) Reset() {
	r.lastCumulative = ""
	r.lastSpoken = ""
	r.emittedThought = 0
	r.lastDelta = ""
	r.lastDeltaAt = time.Time{}
}

// Apply ingests a cumulative snapshot and reports what changed. ok is false
// when the snapshot produced nothing new to surface (identical text, empty
// delta with no new thoughts, or a duplicate delta inside the suppression
// window).
func (r *Reconciler) Apply(cumulative string) (Update, bool) {
	if cumulative == "" || cumulative == r.lastCumulative {
		return Update{}, false
	}

	var upd Update

	spoken := cumulative
	if r.direction == Output {
		var thoughts []string
		spoken, thoughts = splitThoughts(cumulative)

		// Emit each thought at most once, even if the same cumulative
		// string is redelivered with more trailing text.
		if len(thoughts) > r.emittedThought {
			for _, th := range thoughts[r.emittedThought:] {
				if cleaned := sanitizeThought(th); cleaned != "" {
					upd.Thoughts = append(upd.Thoughts, cleaned)
				}
			}
			r.emittedThought = len(thoughts)
		}
	}

	prev := r.lastCumulative
	prevSpoken := prev
	if r.direction == Output {
		prevSpoken = r.lastSpoken
	}

	delta, isCorrection := diff(prevSpoken, spoken)
	if prevSpoken == "" {
		delta = strings.TrimLeft(delta, " ")
	}

	r.lastCumulative = cumulative
	r.lastSpoken = spoken

	if delta == "" && !isCorrection {
		return upd, len(upd.Thoughts) > 0
	}

	// Tolerate protocol-level redelivery: drop an identical delta seen
	// moments ago.
	now := r.now()
	if delta == r.lastDelta && now.Sub(r.lastDeltaAt) < duplicateWindow && !isCorrection {
		return upd, len(upd.Thoughts) > 0
	}
	r.lastDelta = delta
	r.lastDeltaAt = now

	upd.Delta = delta
	upd.IsCorrection = isCorrection
	return upd, true
}

// diff compares the previous and new spoken text for one turn.
func diff(prev, next string) (delta string, isCorrection bool) {
	switch {
	case prev == next:
		return "", false
	case strings.HasPrefix(next, prev):
		return next[len(prev):], false
	case strings.HasPrefix(prev, next):
		// Backtrack: the new text is a prefix of what we already saw,
		// so the whole turn text is replaced.
		return next, true
	default:
		// Divergent snapshot. Treat it as an append rather than a
		// replacement, joining with a space where the boundary would
		// otherwise fuse words. The join rule is a heuristic (trailing
		// punctuation plus alnum adjacency), not a tokenizer.
		return joinDivergent(prev, next), false
	}
}

func joinDivergent(prev, next string) string {
	if prev == "" || next == "" {
		return next
	}
	if strings.HasSuffix(prev, " ") || strings.HasPrefix(next, " ") {
		return next
	}
	if sentenceEndRe.MatchString(prev) {
		return " " + next
	}
	if isAlnum(rune(prev[len(prev)-1])) && isAlnum(rune(next[0])) {
		return " " + next
	}
	return next
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}

// splitThoughts removes <internal>...</internal> annotations from cumulative
// text, returning the spoken remainder and the complete thoughts in order.
// A trailing incomplete tag is stripped from the spoken text so an
// unterminated thought is never displayed mid-stream.
func splitThoughts(text string) (spoken string, thoughts []string) {
	for _, m := range completeThoughtRe.FindAllStringSubmatch(text, -1) {
		thoughts = append(thoughts, m[1])
	}

	// Replace complete tags with a space so surrounding words do not fuse
	// when the model omits spacing around the tags.
	spoken = completeThoughtRe.ReplaceAllString(text, " ")

	// Any opening tag left after complete pairs were removed has no
	// closing tag yet; never surface an unterminated thought mid-stream.
	if i := strings.Index(spoken, "<internal>"); i >= 0 {
		spoken = spoken[:i]
	}

	spoken = multiSpaceRe.ReplaceAllString(spoken, " ")
	return spoken, thoughts
}

// sanitizeThought compacts whitespace and truncates to MaxThoughtChars with
// a trailing ellipsis.
func sanitizeThought(text string) string {
	cleaned := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if cleaned == "" {
		return ""
	}
	if len(cleaned) > MaxThoughtChars {
		cleaned = strings.TrimRight(cleaned[:MaxThoughtChars-3], " ") + "..."
	}
	return cleaned
}
