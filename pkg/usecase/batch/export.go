package batch

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/utils/logging"
)

// Row is the BigQuery row written per session
type Row struct {
	BatchID      string    `bigquery:"batch_id"`
	SessionID    string    `bigquery:"session_id"`
	Subject      string    `bigquery:"subject"`
	Status       string    `bigquery:"status"`
	Rounds       int       `bigquery:"rounds"`
	Refinements  int       `bigquery:"refinements"`
	FinalVersion int       `bigquery:"final_version"`
	Score        float64   `bigquery:"score"`
	Scored       bool      `bigquery:"scored"`
	ThresholdMet bool      `bigquery:"threshold_met"`
	Error        string    `bigquery:"error"`
	FinishedAt   time.Time `bigquery:"finished_at"`
}

// Rows converts the summary into export rows
func (s *Summary) Rows() []*Row {
	rows := make([]*Row, 0, len(s.Results))
	for _, r := range s.Results {
		rows = append(rows, &Row{
			BatchID:      s.BatchID,
			SessionID:    string(r.SessionID),
			Subject:      r.Subject,
			Status:       string(r.Status),
			Rounds:       r.Rounds,
			Refinements:  r.Refinements,
			FinalVersion: r.FinalVersion,
			Score:        r.Score,
			Scored:       r.Scored,
			ThresholdMet: r.ThresholdMet,
			Error:        r.Error,
			FinishedAt:   s.FinishedAt,
		})
	}
	return rows
}

func (u *UseCase) export(ctx context.Context, s *Summary) error {
	// export runs after every session finished, even when the batch was canceled
	ctx = context.WithoutCancel(ctx)

	if err := u.bq.EnsureTable(ctx, u.dataset, u.table, Row{}); err != nil {
		return goerr.Wrap(err, "failed to prepare export table")
	}
	rows := s.Rows()
	if len(rows) == 0 {
		return nil
	}
	if err := u.bq.Insert(ctx, u.dataset, u.table, rows); err != nil {
		return goerr.Wrap(err, "failed to export batch results", goerr.V("batch_id", s.BatchID))
	}
	logging.From(ctx).Info("batch results exported", "dataset", u.dataset, "table", u.table, "rows", len(rows))
	return nil
}
