package subject

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
)

// Console reads replies from a terminal
type Console struct {
	rl  *readline.Instance
	out io.Writer
}

// NewConsole creates a console channel. Ctrl-C withdraws consent and EOF
// ends the interview.
func NewConsole(in io.ReadCloser, out io.Writer) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		Stdin:           in,
		Stdout:          out,
		InterruptPrompt: "^C",
		EOFPrompt:       "end",
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize readline")
	}

	return &Console{rl: rl, out: out}, nil
}

func (x *Console) Ask(ctx context.Context, question string) (*model.Reply, error) {
	fmt.Fprintf(x.out, "\n%s\n", question)

	for {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "interview interrupted")
		}

		line, err := x.rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			return &model.Reply{Signal: model.SignalWithdraw}, nil
		case errors.Is(err, io.EOF):
			return &model.Reply{Signal: model.SignalEnd}, nil
		case err != nil:
			return nil, goerr.Wrap(err, "failed to read reply")
		}

		reply := ParseReply(line)
		if reply.Signal == model.SignalNone && reply.Text == "" {
			continue
		}
		return reply, nil
	}
}

func (x *Console) Close() error {
	if err := x.rl.Close(); err != nil {
		return goerr.Wrap(err, "failed to close readline")
	}
	return nil
}
