package adapter_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/adapter"
)

type testRow struct {
	SessionID string    `bigquery:"session_id"`
	Score     float64   `bigquery:"score"`
	CreatedAt time.Time `bigquery:"created_at"`
}

func TestBigQuery(t *testing.T) {
	projectID := os.Getenv("TEST_BIGQUERY_PROJECT")
	if projectID == "" {
		t.Skip("TEST_BIGQUERY_PROJECT is not set")
	}

	datasetID := os.Getenv("TEST_BIGQUERY_DATASET")
	if datasetID == "" {
		t.Skip("TEST_BIGQUERY_DATASET is not set")
	}

	table := os.Getenv("TEST_BIGQUERY_TABLE")
	if table == "" {
		t.Skip("TEST_BIGQUERY_TABLE is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewBigQuery(ctx, projectID)
	gt.NoError(t, err)

	gt.NoError(t, client.EnsureTable(ctx, datasetID, table, testRow{}))
	// creating an existing table is not an error
	gt.NoError(t, client.EnsureTable(ctx, datasetID, table, testRow{}))

	rows := []*testRow{
		{SessionID: "test-session", Score: 7.5, CreatedAt: time.Now()},
	}
	gt.NoError(t, client.Insert(ctx, datasetID, table, rows))
}
