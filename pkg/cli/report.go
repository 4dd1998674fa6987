package cli

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/saga/pkg/usecase/biography"
	"github.com/urfave/cli/v3"
)

func printReport(c *cli.Command, r *biography.Report) {
	w := c.Root().Writer

	if r.Biography != "" {
		fmt.Fprintf(w, "\n%s\n", r.Markdown())
	}

	fmt.Fprintf(w, "Session:      %s\n", r.SessionID)
	fmt.Fprintf(w, "Status:       %s\n", r.Status)
	if r.AbortReason != "" {
		fmt.Fprintf(w, "Reason:       %s\n", r.AbortReason)
	}
	fmt.Fprintf(w, "Rounds:       %d\n", r.Rounds)
	fmt.Fprintf(w, "Drafts:       %d\n", r.Refinements)
	for _, v := range r.Versions {
		score := "not evaluated"
		if v.Evaluated {
			score = fmt.Sprintf("%.2f", v.Score)
		}
		mark := ""
		if v.Number == r.FinalVersion {
			mark = " (final)"
		}
		fmt.Fprintf(w, "  v%d: %s%s\n", v.Number, score, mark)
	}
	fmt.Fprintf(w, "Research:     %d flagged, %d found, %d empty\n", r.ResearchFlagged, r.ResearchFound, r.ResearchEmpty)
	if len(r.Notes) > 0 {
		fmt.Fprintf(w, "Notes:        %s\n", strings.Join(r.Notes, "; "))
	}
}
