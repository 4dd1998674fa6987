package subject_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/subject"
)

type mockLLM struct {
	generateFunc func(ctx context.Context, req *adapter.GenerateRequest) (string, error)
}

func (m *mockLLM) Generate(ctx context.Context, req *adapter.GenerateRequest) (string, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return "", errors.New("not implemented")
}

func TestParseReply(t *testing.T) {
	testCases := []struct {
		input  string
		signal model.Signal
		text   string
	}{
		{input: "end", signal: model.SignalEnd},
		{input: "  QUIT ", signal: model.SignalEnd},
		{input: "结束", signal: model.SignalEnd},
		{input: "End.", signal: model.SignalEnd},
		{input: "withdraw", signal: model.SignalWithdraw},
		{input: "the end of the war", signal: model.SignalNone, text: "the end of the war"},
		{input: "  I grew up by the sea  ", signal: model.SignalNone, text: "I grew up by the sea"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			r := subject.ParseReply(tc.input)
			gt.Equal(t, r.Signal, tc.signal)
			gt.Equal(t, r.Text, tc.text)
		})
	}
}

func TestScripted(t *testing.T) {
	ctx := context.Background()
	s := subject.NewScripted("first", "end")

	r, err := s.Ask(ctx, "q1")
	gt.NoError(t, err)
	gt.Equal(t, r.Text, "first")

	r, err = s.Ask(ctx, "q2")
	gt.NoError(t, err)
	gt.Equal(t, r.Signal, model.SignalEnd)

	// exhausted script repeats the last reply
	r, err = s.Ask(ctx, "q3")
	gt.NoError(t, err)
	gt.Equal(t, r.Signal, model.SignalEnd)
	gt.A(t, s.Questions()).Length(3)
}

var profile = &model.Subject{
	Name:      "Zhang Min",
	BirthYear: 1948,
	Timeline: []model.TimelineEntry{
		{When: "1968", Summary: "I was sent to a farm in the countryside", Keywords: []string{"countryside", "farm"}},
		{When: "1978", Summary: "I passed the university entrance exam", Keywords: []string{"university", "exam"}},
	},
}

func TestSimulatedUsesProfile(t *testing.T) {
	var prompts []string
	llm := &mockLLM{generateFunc: func(ctx context.Context, req *adapter.GenerateRequest) (string, error) {
		prompts = append(prompts, req.Prompt)
		return "  We worked from dawn.  ", nil
	}}
	s := subject.NewSimulated(llm, profile)

	r, err := s.Ask(context.Background(), "Tell me about your youth.")
	gt.NoError(t, err)
	gt.Equal(t, r.Text, "We worked from dawn.")

	_, err = s.Ask(context.Background(), "And later?")
	gt.NoError(t, err)

	gt.S(t, prompts[0]).Contains("Zhang Min")
	gt.S(t, prompts[0]).Contains("sent to a farm")
	// earlier exchanges are part of the next prompt
	gt.S(t, prompts[1]).Contains("We worked from dawn.")
}

func TestSimulatedFallback(t *testing.T) {
	llm := &mockLLM{generateFunc: func(ctx context.Context, req *adapter.GenerateRequest) (string, error) {
		return "", model.Transient(errors.New("503"), "unavailable")
	}}
	s := subject.NewSimulated(llm, profile)

	r, err := s.Ask(context.Background(), "How did you get into university?")
	gt.NoError(t, err)
	gt.S(t, r.Text).Contains("university entrance exam")

	r, err = s.Ask(context.Background(), "What else happened?")
	gt.NoError(t, err)
	gt.S(t, r.Text).Contains("countryside")
}

func TestSimulatedCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := subject.NewSimulated(&mockLLM{}, profile)
	_, err := s.Ask(ctx, "hello")
	gt.True(t, errors.Is(err, context.Canceled))
}
