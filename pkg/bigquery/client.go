package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/boletos-backend/pkg/config"
	"github.com/angelmondragon/boletos-backend/pkg/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	metadataCheckTimeout = 10 * time.Second
)

type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	projectID  string
	auditTable string
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// AuditRow is one archived audit entry. InsertID lets BigQuery drop
// duplicate streaming inserts of the same entry.
type AuditRow struct {
	EntryID        string    `bigquery:"entry_id"`
	Action         string    `bigquery:"action"`
	InvoiceID      int64     `bigquery:"invoice_id"`
	HasInvoice     bool      `bigquery:"has_invoice"`
	Source         string    `bigquery:"source"`
	ActorID        string    `bigquery:"actor_id"`
	IdempotencyKey string    `bigquery:"idempotency_key"`
	Payload        string    `bigquery:"payload"`
	OccurredAt     time.Time `bigquery:"occurred_at"`
	ArchivedAt     time.Time `bigquery:"archived_at"`
}

// NewClient creates a BigQuery client and verifies the dataset and audit table.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	auditTable := strings.TrimSpace(cfg.AuditTable)
	if auditTable == "" {
		return nil, errTableNameRequired
	}

	opts := clientOptions(gcp)
	bqClient, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:     bqClient,
		dataset:    bqClient.Dataset(datasetID),
		projectID:  projectID,
		auditTable: auditTable,
	}

	if err := client.ensureDatasetAndTable(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "table": auditTable}), "bigquery client initialized")
	}

	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// ensureDatasetAndTable requires the dataset to exist and creates the audit
// table from AuditRow when it is missing, partitioned by day on occurred_at.
func (c *Client) ensureDatasetAndTable(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}

	table := c.dataset.Table(c.auditTable)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
		return nil
	case !isNotFound(err):
		return fmt.Errorf("checking table %q: %w", c.auditTable, err)
	}

	schema, err := bigquery.InferSchema(AuditRow{})
	if err != nil {
		return fmt.Errorf("inferring audit schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: "occurred_at"},
		Clustering:       &bigquery.Clustering{Fields: []string{"action", "invoice_id"}},
	}
	if err := table.Create(ctx, meta); err != nil && !isConflict(err) {
		return fmt.Errorf("creating table %q: %w", c.auditTable, err)
	}
	return nil
}

// Ping verifies the dataset and audit table are accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensureDatasetAndTable(ctx)
}

// InsertAuditRows streams rows into the audit table.
func (c *Client) InsertAuditRows(ctx context.Context, rows []AuditRow) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for i := range rows {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   rows[i],
			InsertID: rows[i].EntryID,
		})
	}
	err := c.dataset.Table(c.auditTable).Inserter().Put(ctx, savers)
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return fmt.Errorf("%d of %d audit rows rejected: %w", len(multi), len(rows), err)
	}
	return err
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

func isConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, status int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr != nil && apiErr.Code == status
}
