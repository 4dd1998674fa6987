package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/policy"
)

func turnsOf(replies ...string) []*model.InterviewTurn {
	turns := make([]*model.InterviewTurn, 0, len(replies))
	for i, r := range replies {
		turns = append(turns, &model.InterviewTurn{Index: i, Question: "q", Reply: r, Timestamp: time.Now()})
	}
	return turns
}

const richReply1 = "I was born in Harbin where winters were brutal. My father repaired locomotives at the railway depot and my mother taught arithmetic at the primary school near our courtyard."
const richReply2 = "When the factory closed I moved south to Shenzhen, found work assembling radios, shared a dormitory with twelve girls from Sichuan and learned Cantonese from the foreman."

func TestContentTokens(t *testing.T) {
	tokens := policy.ContentTokens("I don't know, maybe. The Railway depot!")
	gt.A(t, tokens).Length(2)
	gt.Equal(t, tokens[0], "railway")
	gt.Equal(t, tokens[1], "depot")

	han := policy.ContentTokens("下乡劳动")
	gt.A(t, han).Length(3)
	gt.Equal(t, han[0], "下乡")
}

func TestContentFreeRepliesNeverSaturate(t *testing.T) {
	h := policy.NewHeuristic(nil)
	turns := turnsOf("I don't know.", "Nothing much.", "Yes, it was okay.", "Not really.", "Hmm.")

	s := policy.Measure(turns)
	gt.Equal(t, s.ContentFree, 5)

	for i := 1; i <= len(turns); i++ {
		j, err := h.Judge(context.Background(), turns[:i])
		gt.NoError(t, err)
		gt.False(t, j.Saturated)
	}
}

func TestSaturationAfterRepetition(t *testing.T) {
	h := policy.NewHeuristic(nil)
	turns := turnsOf(richReply1, richReply2, richReply1, richReply2)

	j, err := h.Judge(context.Background(), turns[:2])
	gt.NoError(t, err)
	gt.False(t, j.Saturated)
	gt.True(t, j.Coverage >= policy.MinCoverage)

	// repeating earlier content adds no novelty
	j, err = h.Judge(context.Background(), turns)
	gt.NoError(t, err)
	gt.True(t, j.Saturated)
	gt.Equal(t, j.Novelty, 0.0)
	gt.Equal(t, j.Source, "heuristic")
}

func TestHeuristicWorthy(t *testing.T) {
	h := policy.NewHeuristic(nil)
	testCases := []struct {
		name string
		ev   model.ExtractedEvent
		want bool
	}{
		{name: "research category", ev: model.ExtractedEvent{Category: model.CategoryMigration, Description: "moved to the city"}, want: true},
		{name: "year reference", ev: model.ExtractedEvent{Category: model.CategoryFamily, Description: "married in 1976"}, want: true},
		{name: "decade reference", ev: model.ExtractedEvent{Category: model.CategoryPersonal, Description: "loved disco in the 70s"}, want: true},
		{name: "historical keyword", ev: model.ExtractedEvent{Category: model.CategoryHealth, Description: "fell ill during the pandemic"}, want: true},
		{name: "han keyword", ev: model.ExtractedEvent{Category: model.CategoryEducation, Description: "恢复高考后考上大学"}, want: true},
		{name: "private event", ev: model.ExtractedEvent{Category: model.CategoryFamily, Description: "daughter learned to ride a bicycle"}, want: false},
		{name: "keyword inside word", ev: model.ExtractedEvent{Category: model.CategoryPersonal, Description: "bought a warm coat"}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.Worthy(context.Background(), &tc.ev)
			gt.NoError(t, err)
			gt.Equal(t, got, tc.want)
		})
	}
}

func TestHeuristicCustomCategories(t *testing.T) {
	h := policy.NewHeuristic([]model.EventCategory{model.CategoryFamily})
	got, err := h.Worthy(context.Background(), &model.ExtractedEvent{Category: model.CategoryFamily, Description: "a wedding"})
	gt.NoError(t, err)
	gt.True(t, got)

	got, err = h.Worthy(context.Background(), &model.ExtractedEvent{Category: model.CategoryWork, Description: "a promotion"})
	gt.NoError(t, err)
	gt.False(t, got)
}
