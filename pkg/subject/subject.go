package subject

import (
	"context"
	"strings"

	"github.com/m-mizutani/saga/pkg/model"
)

// Channel delivers interview questions to the subject and returns replies
type Channel interface {
	Ask(ctx context.Context, question string) (*model.Reply, error)
}

var (
	endSentinels      = []string{"end", "quit", "exit", "结束"}
	withdrawSentinels = []string{"withdraw", "/withdraw"}
)

// ParseReply turns raw subject input into a reply. The end and withdraw
// sentinels are control signals and never become transcript content.
func ParseReply(text string) *model.Reply {
	trimmed := strings.TrimSpace(text)
	normalized := strings.ToLower(strings.Trim(trimmed, " .!。！"))

	for _, s := range endSentinels {
		if normalized == s {
			return &model.Reply{Signal: model.SignalEnd}
		}
	}
	for _, s := range withdrawSentinels {
		if normalized == s {
			return &model.Reply{Signal: model.SignalWithdraw}
		}
	}
	return &model.Reply{Text: trimmed}
}
