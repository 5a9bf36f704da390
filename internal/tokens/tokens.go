package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

// Budget holds the token bounds chunking operates within. Min is the
// smallest chunk worth embedding on its own, Target is the ceiling the
// splitter packs towards, HardCap is the absolute limit a chunk may
// never exceed.
type Budget struct {
	Min     int
	Target  int
	HardCap int
}

func NewBudget(min, target, hardCap int) (Budget, error) {
	if min <= 0 || min >= target || target >= hardCap {
		return Budget{}, fmt.Errorf("invalid token budget: min=%d target=%d hardCap=%d", min, target, hardCap)
	}
	return Budget{Min: min, Target: target, HardCap: hardCap}, nil
}

const approxCharsPerToken = 4

// Counter counts tokens with the cl100k_base tokenizer when it can be
// loaded, and a chars/4 approximation otherwise. Callers must tolerate
// both modes.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, falling back to character approximation", "error", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	n := len(text) / approxCharsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// Exact reports whether counts come from the real tokenizer.
func (c *Counter) Exact() bool {
	return c.encoding() != nil
}

// Piece is one split result with its measured token count.
type Piece struct {
	Text      string
	Tokens    int
	Truncated bool
}

// Splitter packs text into budget-bounded pieces.
type Splitter struct {
	counter     *Counter
	budget      Budget
	truncations atomic.Int64
}

func NewSplitter(counter *Counter, budget Budget) *Splitter {
	return &Splitter{counter: counter, budget: budget}
}

func (s *Splitter) Budget() Budget { return s.budget }

// Truncations reports how many segments had to be force-truncated at
// the hard cap. A non-zero value indicates input that does not respect
// normal prose boundaries.
func (s *Splitter) Truncations() int64 {
	return s.truncations.Load()
}

// SplitIntoChunks returns the text as a single piece when it already
// fits the target ceiling. Otherwise it accumulates sentence or bullet
// segments until the next one would push the running piece past the
// target. A single segment over the hard cap is token-truncated and
// emitted on its own. With preserveBoundaries=false the text is packed
// word by word instead.
func (s *Splitter) SplitIntoChunks(text string, preserveBoundaries bool) []Piece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if n := s.counter.Count(text); n <= s.budget.Target {
		return []Piece{{Text: text, Tokens: n}}
	}

	var segments []string
	if preserveBoundaries {
		segments = splitSegments(text)
	} else {
		segments = strings.Fields(text)
	}

	var pieces []Piece
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		t := strings.TrimSpace(current.String())
		pieces = append(pieces, Piece{Text: t, Tokens: s.counter.Count(t)})
		current.Reset()
		currentTokens = 0
	}

	for _, seg := range segments {
		segTokens := s.counter.Count(seg)

		if segTokens > s.budget.HardCap {
			flush()
			truncated, n, _ := s.EnforceHardCap(seg)
			pieces = append(pieces, Piece{Text: truncated, Tokens: n, Truncated: true})
			continue
		}

		if currentTokens+segTokens > s.budget.Target {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(seg)
		currentTokens += segTokens
	}
	flush()

	return pieces
}

// EnforceHardCap truncates text at the token level so it never exceeds
// the hard cap. Returns the (possibly shortened) text, its token count
// and whether truncation happened.
func (s *Splitter) EnforceHardCap(text string) (string, int, bool) {
	text = strings.TrimSpace(text)
	if enc := s.counter.encoding(); enc != nil {
		toks := enc.Encode(text, nil, nil)
		if len(toks) <= s.budget.HardCap {
			return text, len(toks), false
		}
		s.truncations.Add(1)
		out := enc.Decode(toks[:s.budget.HardCap])
		return out, s.budget.HardCap, true
	}

	// Approximate mode: cap at the equivalent character length,
	// rune-safe.
	maxChars := s.budget.HardCap * approxCharsPerToken
	if len(text) <= maxChars {
		return text, s.counter.Count(text), false
	}
	s.truncations.Add(1)
	runes := []rune(text)
	if len(runes) > maxChars {
		runes = runes[:maxChars]
	}
	out := string(runes)
	return out, s.counter.Count(out), true
}

// splitSegments breaks text into sentences and bullet items. Bullet
// lines stand on their own; prose lines are split at sentence enders.
func splitSegments(text string) []string {
	var segments []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isBullet(line) {
			segments = append(segments, line)
			continue
		}
		segments = append(segments, splitSentences(line)...)
	}
	return segments
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ")
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || runes[i+1] == ' ' {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
