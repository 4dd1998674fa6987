package adapter

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

// BigQuery is an interface for exporting rows to BigQuery
type BigQuery interface {
	// EnsureTable creates the table with the schema inferred from row when it does not exist
	EnsureTable(ctx context.Context, datasetID, table string, row any) error

	// Insert streams rows into the table. rows must be a slice of structs
	// or bigquery.ValueSaver values.
	Insert(ctx context.Context, datasetID, table string, rows any) error
}

type bigqueryClient struct {
	client *bigquery.Client
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &bigqueryClient{
		client: client,
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

func (bq *bigqueryClient) EnsureTable(ctx context.Context, datasetID, table string, row any) error {
	schema, err := bigquery.InferSchema(row)
	if err != nil {
		return goerr.Wrap(err, "failed to infer table schema")
	}

	tbl := bq.client.Dataset(datasetID).Table(table)
	if err := tbl.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return goerr.Wrap(err, "failed to create table", goerr.V("dataset", datasetID), goerr.V("table", table))
	}

	return nil
}

func (bq *bigqueryClient) Insert(ctx context.Context, datasetID, table string, rows any) error {
	inserter := bq.client.Dataset(datasetID).Table(table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert rows", goerr.V("dataset", datasetID), goerr.V("table", table))
	}
	return nil
}
