package segmenter

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/concordance/pkg/types"
)

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	conclusionCue  = regexp.MustCompile(`(?i)\b(therefore|thus|hence|consequently|it follows that)\b`)
	premiseCue     = regexp.MustCompile(`(?i)\b(because|since|given that)\b`)
)

const (
	sentenceClosers = "\"')]”’»"
	quoteOpeners    = "\"'“‘«>"
)

// word is the byte range of one whitespace-delimited token
type word struct {
	start, end int
}

// wordRange is a half-open range of word indices
type wordRange struct {
	from, to int
}

func (r wordRange) len() int { return r.to - r.from }

// group is a span expressed in word indices. Words [from, to) are new to the
// span; the overlap words immediately before from repeat the previous span's tail.
type group struct {
	from, to int
	overlap  int
}

// paragraphGroup is a run of adjacent paragraphs emitted together
type paragraphGroup struct {
	wordRange
	paragraphs int
}

// Segmenter splits document text into bounded, overlapping spans
type Segmenter struct {
	cfg Config
}

// New creates a Segmenter with a validated, normalized configuration
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{cfg: cfg.Normalize()}, nil
}

// Segment splits text with a one-off configuration
func Segment(documentID, text string, cfg Config) ([]types.Span, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return s.Segment(documentID, text), nil
}

// Config returns the normalized configuration in effect
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Segment returns the spans of text in order. Empty and whitespace-only text
// yields no spans.
func (s *Segmenter) Segment(documentID, text string) []types.Span {
	words := tokenize(text)
	if len(words) == 0 {
		return nil
	}

	var groups []group
	all := wordRange{0, len(words)}

	switch s.cfg.Strategy {
	case StrategyFixed:
		groups = s.fixedGroups(all)
	default:
		paras := paragraphs(text, words)
		if len(paras) < 2 {
			groups = s.fixedGroups(all)
			break
		}
		c := chunking{s: s, text: text, words: words}
		for _, pg := range c.groupParagraphs(paras) {
			switch {
			case pg.len() <= s.cfg.MaxTokens || pg.paragraphs > 1:
				groups = append(groups, group{from: pg.from, to: pg.to})
			case s.cfg.Strategy == StrategyHybrid:
				groups = append(groups, c.splitSentences(pg.wordRange)...)
			default:
				groups = append(groups, s.fixedGroups(pg.wordRange)...)
			}
		}
	}

	return buildSpans(documentID, text, words, groups)
}

// CountTokens estimates tokens as whitespace-delimited words
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// fixedGroups cuts r into windows of MaxTokens words, each after the first
// repeating OverlapTokens words of its predecessor
func (s *Segmenter) fixedGroups(r wordRange) []group {
	var out []group
	for pos := r.from; pos < r.to; {
		ov := 0
		if len(out) > 0 {
			ov = min(s.cfg.OverlapTokens, pos-r.from)
		}
		end := min(pos+s.cfg.MaxTokens-ov, r.to)
		out = append(out, group{from: pos, to: end, overlap: ov})
		pos = end
	}
	return out
}

// chunking holds per-call state for structure-aware strategies
type chunking struct {
	s     *Segmenter
	text  string
	words []word
}

func (c *chunking) rangeText(r wordRange) string {
	return c.text[c.words[r.from].start:c.words[r.to-1].end]
}

// bridges reports whether joining prev and next keeps an argument together:
// next draws a conclusion, or prev ends on a premise
func (c *chunking) bridges(prev, next wordRange) bool {
	if !c.s.cfg.PreserveArguments {
		return false
	}
	if conclusionCue.MatchString(c.rangeText(next)) {
		return true
	}
	return premiseCue.MatchString(c.rangeText(prev))
}

// fits reports whether total tokens may share one span given the argument rule
func (c *chunking) fits(total int, prev, next wordRange) bool {
	if total <= c.s.cfg.MaxTokens {
		return true
	}
	return total <= c.s.cfg.SlackLimit() && c.bridges(prev, next)
}

// groupParagraphs merges paragraphs under MinTokens with their neighbors
func (c *chunking) groupParagraphs(paras []wordRange) []paragraphGroup {
	var out []paragraphGroup
	cur := paragraphGroup{wordRange: paras[0], paragraphs: 1}
	last := paras[0]

	for _, p := range paras[1:] {
		small := cur.len() < c.s.cfg.MinTokens || p.len() < c.s.cfg.MinTokens
		if small && c.fits(cur.len()+p.len(), last, p) {
			cur.to = p.to
			cur.paragraphs++
			last = p
			continue
		}
		out = append(out, cur)
		cur = paragraphGroup{wordRange: p, paragraphs: 1}
		last = p
	}
	return append(out, cur)
}

// splitSentences packs the sentences of an oversized paragraph greedily,
// carrying OverlapTokens words from the previous sub-split
func (c *chunking) splitSentences(r wordRange) []group {
	budget := c.s.cfg.MaxTokens - c.s.cfg.OverlapTokens
	units := c.sentenceUnits(r, budget)

	var out []group
	cur := group{from: units[0].from, to: units[0].to}
	lastUnit := units[0]

	for _, u := range units[1:] {
		total := cur.overlap + (cur.to - cur.from) + u.len()
		if c.fits(total, lastUnit, u) {
			cur.to = u.to
			lastUnit = u
			continue
		}
		out = append(out, cur)
		cur = group{from: u.from, to: u.to, overlap: min(c.s.cfg.OverlapTokens, u.from-r.from)}
		lastUnit = u
	}
	return append(out, cur)
}

// sentenceUnits splits r at sentence ends. Sentences longer than budget are
// cut at word boundaries.
func (c *chunking) sentenceUnits(r wordRange, budget int) []wordRange {
	var units []wordRange
	start := r.from
	for i := r.from; i < r.to; i++ {
		w := c.words[i]
		if i == r.to-1 || endsSentence(c.text[w.start:w.end]) {
			for from := start; from <= i; from += budget {
				units = append(units, wordRange{from, min(from+budget, i+1)})
			}
			start = i + 1
		}
	}
	return units
}

func endsSentence(token string) bool {
	token = strings.TrimRight(token, sentenceClosers)
	if token == "" {
		return false
	}
	switch token[len(token)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// tokenize returns the byte ranges of whitespace-delimited words
func tokenize(text string) []word {
	var words []word
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, word{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{start, len(text)})
	}
	return words
}

// paragraphs groups word indices by blank-line separated paragraph.
// Whitespace-only paragraphs contain no words and vanish.
func paragraphs(text string, words []word) []wordRange {
	breaks := paragraphBreak.FindAllStringIndex(text, -1)

	var out []wordRange
	b := 0
	cur := wordRange{0, 0}
	for i, w := range words {
		crossed := false
		for b < len(breaks) && breaks[b][1] <= w.start {
			b++
			crossed = true
		}
		if crossed && cur.len() > 0 {
			out = append(out, cur)
			cur = wordRange{i, i}
		}
		cur.to = i + 1
	}
	return append(out, cur)
}

// buildSpans converts word groups into spans whose new regions tile text.
// Whitespace after a group's last word belongs to that group.
func buildSpans(documentID, text string, words []word, groups []group) []types.Span {
	spans := make([]types.Span, 0, len(groups))
	for k, g := range groups {
		newStart := 0
		if k > 0 {
			newStart = words[g.from].start
		}
		newEnd := len(text)
		if k < len(groups)-1 {
			newEnd = words[g.to].start
		}
		spanStart := newStart
		if g.overlap > 0 {
			spanStart = words[g.from-g.overlap].start
		}

		body := text[spanStart:newEnd]
		spans = append(spans, types.Span{
			DocumentID: documentID,
			Ordinal:    k,
			Text:       body,
			Start:      spanStart,
			End:        newEnd,
			Overlap:    newStart - spanStart,
			TokenCount: g.to - g.from + g.overlap,
			Tag:        classify(body[newStart-spanStart:], body),
		})
	}
	return spans
}

// classify tags a span by its opening and by any inference cue it contains
func classify(own, body string) types.SpanTag {
	if conclusionCue.MatchString(body) || premiseCue.MatchString(body) {
		return types.TagArgument
	}
	r, _ := utf8.DecodeRuneInString(strings.TrimLeftFunc(own, unicode.IsSpace))
	if r != utf8.RuneError && strings.ContainsRune(quoteOpeners, r) {
		return types.TagQuote
	}
	return types.TagBody
}
