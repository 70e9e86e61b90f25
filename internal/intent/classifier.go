// Package intent maps free-text patient replies to appointment intents using
// ordered keyword rules.
package intent

import (
	"context"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var tracer = otel.Tracer("dental/intent-classifier")

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	Confirmed  Intent = "confirmed"
	Cancelled  Intent = "cancelled"
	Reschedule Intent = "reschedule"
	Unknown    Intent = "unknown"
)

// Result is the outcome of a classification. Unknown carries zero confidence.
type Result struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Matched    string  `json:"matched,omitempty"`
}

// Classifier turns message text into an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) Result
}

// MatchKind selects how a keyword is compared against normalized text.
type MatchKind int

const (
	// MatchPhrase matches the keyword as a run of whole words anywhere in the text.
	MatchPhrase MatchKind = iota
	// MatchExact matches only when the whole message equals the keyword.
	MatchExact
)

// Keyword is a single matcher inside a rule.
type Keyword struct {
	Kind MatchKind
	Text string
}

// Rule groups the keywords of one intent with its fixed confidence.
// SkipNegated ignores phrase hits directly preceded by a negation word.
type Rule struct {
	Intent      Intent
	Confidence  float64
	Keywords    []Keyword
	SkipNegated bool
}

// KeywordClassifier evaluates rules in order; the first rule with a match wins.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier builds a classifier from rules. Keywords are normalized
// once so lookups compare folded text on both sides.
func NewKeywordClassifier(rules []Rule) *KeywordClassifier {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		kws := make([]Keyword, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			text := Normalize(kw.Text)
			if text == "" {
				continue
			}
			kws = append(kws, Keyword{Kind: kw.Kind, Text: text})
		}
		compiled = append(compiled, Rule{Intent: r.Intent, Confidence: r.Confidence, Keywords: kws, SkipNegated: r.SkipNegated})
	}
	return &KeywordClassifier{rules: compiled}
}

// NewDefaultClassifier returns the Spanish/Portuguese rule set: confirmation,
// then cancellation, then reschedule.
func NewDefaultClassifier() *KeywordClassifier {
	return NewKeywordClassifier(DefaultRules())
}

// Classify returns the first matching rule's intent or Unknown.
func (c *KeywordClassifier) Classify(ctx context.Context, text string) Result {
	_, span := tracer.Start(ctx, "intent.classify")
	defer span.End()

	res := c.classify(Normalize(text))
	span.SetAttributes(
		attribute.String("intent", string(res.Intent)),
		attribute.Float64("confidence", res.Confidence),
	)
	return res
}

func (c *KeywordClassifier) classify(normalized string) Result {
	if normalized == "" {
		return Result{Intent: Unknown}
	}
	padded := " " + normalized + " "
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			var hit bool
			switch kw.Kind {
			case MatchExact:
				hit = normalized == kw.Text
			default:
				hit = containsPhrase(padded, kw.Text, rule.SkipNegated)
			}
			if hit {
				return Result{Intent: rule.Intent, Confidence: rule.Confidence, Matched: kw.Text}
			}
		}
	}
	return Result{Intent: Unknown}
}

var negations = map[string]bool{"no": true, "nao": true, "nem": true, "nunca": true}

// containsPhrase reports whether phrase occurs as whole words in padded. With
// skipNegated, occurrences right after a negation word do not count.
func containsPhrase(padded, phrase string, skipNegated bool) bool {
	needle := " " + phrase + " "
	from := 0
	for {
		i := strings.Index(padded[from:], needle)
		if i < 0 {
			return false
		}
		at := from + i
		if !skipNegated || !negations[lastWord(padded[:at])] {
			return true
		}
		from = at + 1
	}
}

func lastWord(s string) string {
	s = strings.TrimRight(s, " ")
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Normalize lower-cases, strips accents and collapses everything that is not a
// letter or digit into single spaces.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
