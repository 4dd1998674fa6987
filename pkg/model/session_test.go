package model_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/model"
)

func TestSessionAppendTurn(t *testing.T) {
	s := model.NewSession(&model.Subject{Name: "Li Wei"}, "adaptive")
	gt.Equal(t, s.Phase, model.PhaseInterviewing)

	for i := 0; i < 3; i++ {
		turn := s.AppendTurn(fmt.Sprintf("q%d", i), "reply", time.Now())
		gt.Equal(t, turn.Index, i)
	}
	gt.Equal(t, s.Rounds, 3)
	gt.Equal(t, s.LastTurn().Question, "q2")
	gt.A(t, s.Questions()).Length(3)
}

func TestPhaseTerminal(t *testing.T) {
	gt.True(t, model.PhaseComplete.Terminal())
	gt.True(t, model.PhaseAborted.Terminal())
	gt.False(t, model.PhaseRefining.Terminal())
	gt.False(t, model.PhaseInterviewing.Terminal())
}

func TestParseEventCategory(t *testing.T) {
	gt.Equal(t, model.ParseEventCategory(" Migration "), model.CategoryMigration)
	gt.Equal(t, model.ParseEventCategory("unknown"), model.CategoryPersonal)
}

func TestIsTransient(t *testing.T) {
	cause := errors.New("429 too many requests")

	gt.True(t, model.IsTransient(model.Transient(cause, "rate limited")))
	gt.True(t, model.IsTransient(goerr.Wrap(model.Transient(cause, "rate limited"), "outer")))
	gt.False(t, model.IsTransient(model.Fatal(cause, "auth failed")))
	gt.False(t, model.IsTransient(cause))
	gt.False(t, model.IsTransient(nil))
}

func TestLoadSubject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subject.yaml")
	profile := `name: Zhang Min
birth_year: 1948
personality: reserved, precise
timeline:
  - when: "1968"
    summary: sent to the countryside
    keywords: [countryside, farm]
  - when: "1978"
    summary: entered university after the exams resumed
`
	gt.NoError(t, os.WriteFile(path, []byte(profile), 0644))

	s, err := model.LoadSubject(path)
	gt.NoError(t, err)
	gt.Equal(t, s.Name, "Zhang Min")
	gt.Equal(t, s.BirthYear, 1948)
	gt.A(t, s.Timeline).Length(2)
	gt.Equal(t, s.Timeline[0].Keywords[1], "farm")

	empty := filepath.Join(dir, "empty.yaml")
	gt.NoError(t, os.WriteFile(empty, []byte("birth_year: 1950\n"), 0644))
	_, err = model.LoadSubject(empty)
	gt.Error(t, err)
}
