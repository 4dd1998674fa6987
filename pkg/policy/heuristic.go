package policy

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/m-mizutani/saga/pkg/model"
)

const (
	// MinCoverage is the number of distinct content tokens required before
	// an interview may be judged saturated.
	MinCoverage = 30
	// Window is the number of latest replies that must all be low-novelty.
	Window = 2
	// NoveltyThreshold is the novelty below which a reply adds little.
	NoveltyThreshold = 0.35
	// MinContentTokens is the number of content tokens below which a
	// reply is content-free.
	MinContentTokens = 3
)

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "always": {}, "back": {},
	"because": {}, "been": {}, "before": {}, "being": {}, "both": {}, "came": {},
	"come": {}, "could": {}, "didn": {}, "does": {}, "doing": {}, "done": {},
	"down": {}, "each": {}, "even": {}, "ever": {}, "every": {}, "from": {},
	"gave": {}, "give": {}, "going": {}, "good": {}, "have": {}, "having": {},
	"here": {}, "into": {}, "just": {}, "know": {}, "like": {}, "made": {},
	"make": {}, "many": {}, "maybe": {}, "more": {}, "most": {}, "much": {},
	"must": {}, "never": {}, "nothing": {}, "only": {}, "other": {}, "really": {},
	"remember": {}, "said": {}, "same": {}, "some": {}, "something": {}, "still": {},
	"such": {}, "sure": {}, "than": {}, "that": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "thing": {}, "things": {},
	"think": {}, "this": {}, "those": {}, "very": {}, "want": {}, "well": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"will": {}, "with": {}, "would": {}, "year": {}, "years": {}, "your": {},
	"yeah": {}, "okay": {}, "dont": {}, "cant": {}, "time": {}, "didnt": {},
}

// HistoricalKeywords mark descriptions that reference external or
// historical context.
var HistoricalKeywords = []string{
	"war", "revolution", "reform", "pandemic", "epidemic", "famine", "depression",
	"recession", "independence", "election", "strike", "protest", "movement",
	"olympics", "earthquake", "flood", "crisis", "occupation", "liberation",
	"partition", "embargo", "collapse", "boom", "policy", "campaign",
	"战争", "革命", "改革", "开放", "下乡", "高考", "饥荒", "运动", "疫情",
}

var (
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b|(19|20)\d{2}年`)
	decadePattern = regexp.MustCompile(`(?i)\b(19|20)?\d0s\b|'\d0s\b|\d0年代`)
)

// ContentTokens returns the normalized content tokens of text: lower-cased
// words of four or more letters that are not stopwords, and bigrams of
// consecutive Han characters.
func ContentTokens(text string) []string {
	var tokens []string
	var word []rune
	var han []rune

	flushWord := func() {
		if len(word) >= 4 {
			w := string(word)
			if _, stop := stopwords[w]; !stop {
				tokens = append(tokens, w)
			}
		}
		word = word[:0]
	}
	flushHan := func() {
		for i := 0; i+1 < len(han); i++ {
			tokens = append(tokens, string(han[i:i+2]))
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r):
			flushHan()
			word = append(word, unicode.ToLower(r))
		case r == '\'':
			// keep contractions as a single word
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

// Signals summarize how much new information the interview replies carry
type Signals struct {
	Rounds int
	// Coverage is the number of distinct content tokens over all replies
	Coverage int
	// Novelty holds, per reply, the share of its content tokens unseen in earlier replies
	Novelty []float64
	// ContentFree counts replies with fewer than MinContentTokens tokens
	ContentFree int
}

// Recent returns novelty of the latest n replies
func (s *Signals) Recent(n int) []float64 {
	start := max(len(s.Novelty)-n, 0)
	return append([]float64{}, s.Novelty[start:]...)
}

// Measure computes saturation signals from the transcript
func Measure(turns []*model.InterviewTurn) *Signals {
	seen := make(map[string]struct{})
	s := &Signals{Rounds: len(turns)}

	for _, t := range turns {
		tokens := ContentTokens(t.Reply)
		if len(tokens) < MinContentTokens {
			s.ContentFree++
		}

		fresh := 0
		unique := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			unique[tok] = struct{}{}
		}
		for tok := range unique {
			if _, ok := seen[tok]; !ok {
				fresh++
				seen[tok] = struct{}{}
			}
		}

		novelty := 0.0
		if len(unique) > 0 {
			novelty = float64(fresh) / float64(len(unique))
		}
		s.Novelty = append(s.Novelty, novelty)
	}

	s.Coverage = len(seen)
	return s
}

// Heuristic is the deterministic fallback for both the research and the
// continuation rubric.
type Heuristic struct {
	categories []model.EventCategory
}

// NewHeuristic creates a heuristic policy. An empty category set uses
// model.DefaultResearchCategories.
func NewHeuristic(categories []model.EventCategory) *Heuristic {
	if len(categories) == 0 {
		categories = model.DefaultResearchCategories
	}
	return &Heuristic{categories: categories}
}

func (x *Heuristic) Categories() []model.EventCategory {
	return x.categories
}

// Worthy reports whether an event benefits from historical research
func (x *Heuristic) Worthy(ctx context.Context, ev *model.ExtractedEvent) (bool, error) {
	return x.worthy(ev), nil
}

func (x *Heuristic) worthy(ev *model.ExtractedEvent) bool {
	if slices.Contains(x.categories, ev.Category) {
		return true
	}
	if yearPattern.MatchString(ev.Description) || decadePattern.MatchString(ev.Description) {
		return true
	}

	desc := strings.ToLower(ev.Description)
	words := strings.FieldsFunc(desc, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.Is(unicode.Han, r)
	})
	for _, kw := range HistoricalKeywords {
		if isASCII(kw) {
			if slices.Contains(words, kw) {
				return true
			}
		} else if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// Judge reports whether the interview is saturated
func (x *Heuristic) Judge(ctx context.Context, turns []*model.InterviewTurn) (*model.Judgment, error) {
	s := Measure(turns)
	j := &model.Judgment{
		Round:     len(turns),
		Coverage:  s.Coverage,
		Saturated: Saturated(s),
		Source:    "heuristic",
	}
	if len(s.Novelty) > 0 {
		j.Novelty = s.Novelty[len(s.Novelty)-1]
	}
	if j.Saturated {
		j.Reason = "recent replies add little new information"
	}
	return j, nil
}

// Saturated applies the saturation rubric to signals
func Saturated(s *Signals) bool {
	if s.Coverage < MinCoverage || len(s.Novelty) < Window {
		return false
	}
	for _, n := range s.Recent(Window) {
		if n >= NoveltyThreshold {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
