package biography

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
)

//go:embed prompt/interview.md
var interviewPromptRaw string

var promptFuncs = template.FuncMap{"join": strings.Join}

var interviewPromptTmpl = template.Must(template.New("interview").Funcs(promptFuncs).Parse(interviewPromptRaw))

var questionSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"question": {Type: "string", Description: "The next interview question"},
	},
	Required: []string{"question"},
}

type topic struct {
	name     string
	keywords []string
}

var interviewTopics = []topic{
	{"childhood and family origins", []string{"born", "child", "childhood", "parents", "father", "mother", "grandmother", "grandfather", "hometown", "village", "siblings", "brother", "sister"}},
	{"education", []string{"school", "teacher", "university", "college", "study", "studied", "exam", "classmates", "student"}},
	{"work and career", []string{"work", "worked", "job", "factory", "company", "boss", "career", "office", "colleagues", "salary"}},
	{"marriage and family life", []string{"married", "marriage", "wife", "husband", "wedding", "children", "daughter", "son", "kids"}},
	{"moves and places lived", []string{"moved", "move", "city", "migrated", "abroad", "left", "relocated", "countryside"}},
	{"historical events lived through", []string{"war", "revolution", "reform", "government", "policy", "history", "movement", "crisis"}},
	{"health and hardship", []string{"illness", "sick", "hospital", "hunger", "hungry", "difficult", "hardship", "poor", "lost"}},
	{"achievements and turning points", []string{"proud", "award", "success", "achievement", "promoted", "changed", "decision", "turning"}},
	{"beliefs and lessons", []string{"believe", "lesson", "learned", "value", "advice", "regret", "meaning", "faith"}},
}

var yearMention = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Interviewer generates questions with the model client
type Interviewer struct {
	llm adapter.LLM
	now func() time.Time
}

func NewInterviewer(llm adapter.LLM) *Interviewer {
	return &Interviewer{llm: llm, now: time.Now}
}

func (x *Interviewer) NextQuestion(ctx context.Context, s *model.Session) (string, error) {
	questions := s.Questions()

	var buf bytes.Buffer
	if err := interviewPromptTmpl.Execute(&buf, map[string]any{
		"Subject":   s.Subject,
		"Round":     s.Rounds + 1,
		"Turns":     s.Turns,
		"Questions": questions,
		"Focus":     UnderExploredTopics(s.Turns, 3),
		"Sparse":    SparsePeriods(s.Subject, s.Turns, x.now().Year(), 2),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute interview prompt template")
	}

	var resp struct {
		Question string `json:"question"`
	}
	if err := adapter.GenerateJSON(ctx, x.llm, &adapter.GenerateRequest{
		Prompt:      buf.String(),
		Schema:      questionSchema,
		Temperature: adapter.Float32(0.7),
	}, &resp); err != nil {
		return "", err
	}

	q := strings.TrimSpace(resp.Question)
	if q == "" {
		return "", model.Transient(nil, "empty question from model")
	}
	if IsRepeatedQuestion(q, questions) {
		return "", model.Transient(nil, "model repeated an earlier question", goerr.V("question", q))
	}
	return q, nil
}

func normalizeQuestion(q string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, q)
}

// IsRepeatedQuestion reports whether q matches an earlier question,
// ignoring case, spacing and punctuation.
func IsRepeatedQuestion(q string, history []string) bool {
	n := normalizeQuestion(q)
	for _, h := range history {
		if normalizeQuestion(h) == n {
			return true
		}
	}
	return false
}

func replyWords(turns []*model.InterviewTurn) map[string]int {
	counts := make(map[string]int)
	for _, t := range turns {
		for _, w := range strings.FieldsFunc(strings.ToLower(t.Reply), func(r rune) bool { return !unicode.IsLetter(r) }) {
			counts[w]++
		}
	}
	return counts
}

// UnderExploredTopics returns up to n life topics with the fewest keyword
// hits in the replies so far, in a stable order.
func UnderExploredTopics(turns []*model.InterviewTurn, n int) []string {
	words := replyWords(turns)

	type scored struct {
		name string
		hits int
		pos  int
	}
	list := make([]scored, 0, len(interviewTopics))
	for i, tp := range interviewTopics {
		hits := 0
		for _, kw := range tp.keywords {
			hits += words[kw]
		}
		list = append(list, scored{name: tp.name, hits: hits, pos: i})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].hits != list[j].hits {
			return list[i].hits < list[j].hits
		}
		return list[i].pos < list[j].pos
	})

	out := make([]string, 0, n)
	for _, s := range list[:min(n, len(list))] {
		out = append(out, s.name)
	}
	return out
}

// SparsePeriods returns up to n decades of the subject's life with the
// fewest year mentions in the replies. It needs a birth year.
func SparsePeriods(subject *model.Subject, turns []*model.InterviewTurn, currentYear, n int) []string {
	if subject == nil || subject.BirthYear <= 0 || subject.BirthYear > currentYear {
		return nil
	}

	first := subject.BirthYear / 10 * 10
	last := currentYear / 10 * 10
	mentions := make(map[int]int)
	for _, t := range turns {
		for _, y := range yearMention.FindAllString(t.Reply, -1) {
			year, _ := strconv.Atoi(y)
			mentions[year/10*10]++
		}
	}
	for _, e := range subject.Timeline {
		if y := yearMention.FindString(e.When); y != "" && mentionedInTurns(e, turns) {
			year, _ := strconv.Atoi(y)
			mentions[year/10*10]++
		}
	}

	type decade struct {
		start int
		count int
	}
	var decades []decade
	for d := first; d <= last; d += 10 {
		decades = append(decades, decade{start: d, count: mentions[d]})
	}
	sort.SliceStable(decades, func(i, j int) bool {
		return decades[i].count < decades[j].count
	})

	out := make([]string, 0, n)
	for _, d := range decades[:min(n, len(decades))] {
		out = append(out, fmt.Sprintf("the %ds", d.start))
	}
	return out
}

func mentionedInTurns(e model.TimelineEntry, turns []*model.InterviewTurn) bool {
	for _, t := range turns {
		reply := strings.ToLower(t.Reply)
		for _, kw := range e.Keywords {
			if strings.Contains(reply, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}
