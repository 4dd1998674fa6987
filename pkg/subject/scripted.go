package subject

import (
	"context"
	"sync"

	"github.com/m-mizutani/saga/pkg/model"
)

// Scripted replies with a fixed list of answers. After the list is
// exhausted it keeps repeating the last answer.
type Scripted struct {
	mu        sync.Mutex
	replies   []string
	next      int
	questions []string
}

func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

func (x *Scripted) Ask(ctx context.Context, question string) (*model.Reply, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.questions = append(x.questions, question)
	if len(x.replies) == 0 {
		return &model.Reply{Signal: model.SignalEnd}, nil
	}

	i := min(x.next, len(x.replies)-1)
	x.next++
	return ParseReply(x.replies[i]), nil
}

// Questions returns every question asked so far
func (x *Scripted) Questions() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.questions...)
}
