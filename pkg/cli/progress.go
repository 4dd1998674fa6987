package cli

import (
	"context"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/usecase/biography"
)

var actionLabels = map[biography.Action]string{
	biography.ActionContinueInterview: "thinking of the next question",
	biography.ActionEndInterview:      "closing the interview",
	biography.ActionExtractEvents:     "extracting life events",
	biography.ActionResearch:          "researching historical context",
	biography.ActionWrite:             "writing the biography",
	biography.ActionEvaluate:          "evaluating the draft",
	biography.ActionRefine:            "preparing a revision",
	biography.ActionComplete:          "selecting the final version",
}

// progress shows a spinner while collaborators work. It stops whenever
// the subject is asked a question so the prompt stays readable.
type progress struct {
	sp *spinner.Spinner
}

func newProgress(w io.Writer) *progress {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	return &progress{sp: sp}
}

func (p *progress) update(ctx context.Context, s *model.Session, action biography.Action) {
	label, ok := actionLabels[action]
	if !ok {
		p.stop()
		return
	}
	p.sp.Lock()
	p.sp.Suffix = " " + label
	p.sp.Unlock()
	p.sp.Start()
}

func (p *progress) stop() {
	p.sp.Stop()
}

// channel wraps ch so the spinner is stopped while the subject answers
func (p *progress) channel(ch subject.Channel) subject.Channel {
	return &quietChannel{ch: ch, p: p}
}

type quietChannel struct {
	ch subject.Channel
	p  *progress
}

func (x *quietChannel) Ask(ctx context.Context, question string) (*model.Reply, error) {
	x.p.stop()
	return x.ch.Ask(ctx, question)
}
