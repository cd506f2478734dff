package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec describes one table the client writes to. PartitionField, when set, names a
// TIMESTAMP column used for daily partitioning on creation.
type TableSpec struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

// Client is a dataset-scoped BigQuery handle that knows which tables it owns.
type Client struct {
	client   *bigquery.Client
	dataset  *bigquery.Dataset
	location string
	tables   []TableSpec
	logg     *logger.Logger
}

type Pinger interface {
	Ping(context.Context) error
}

// NewClient opens a BigQuery client for the configured dataset and checks that every table
// in specs is reachable. With CreateTables set, a missing dataset or table is created
// instead of failing startup.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, specs ...TableSpec) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables, err := normalizeSpecs(specs)
	if err != nil {
		return nil, err
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:   bqClient,
		dataset:  bqClient.Dataset(datasetID),
		location: strings.TrimSpace(cfg.Location),
		tables:   tables,
		logg:     logg,
	}
	if err := client.ensure(ctx, cfg.CreateTables); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id": projectID,
			"dataset":    datasetID,
			"tables":     len(tables),
		}), "bigquery client initialized")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func normalizeSpecs(specs []TableSpec) ([]TableSpec, error) {
	if len(specs) == 0 {
		return nil, errTableNameRequired
	}
	seen := make(map[string]struct{}, len(specs))
	out := make([]TableSpec, 0, len(specs))
	for _, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		if spec.Name == "" {
			return nil, errTableNameRequired
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("bigquery table %q configured twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		out = append(out, spec)
	}
	return out, nil
}

// tableMetadata is the definition used when a table has to be created.
func tableMetadata(spec TableSpec) *bigquery.TableMetadata {
	md := &bigquery.TableMetadata{Schema: spec.Schema}
	if spec.PartitionField != "" {
		md.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: spec.PartitionField,
		}
	}
	return md
}

func (c *Client) ensure(ctx context.Context, create bool) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
		}
		if !create {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		if err := c.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: c.location}); err != nil && !isConflict(err) {
			return fmt.Errorf("creating dataset %q: %w", c.dataset.DatasetID, err)
		}
		c.logCreated(ctx, c.dataset.DatasetID)
	}

	for _, spec := range c.tables {
		table := c.dataset.Table(spec.Name)
		if _, err := table.Metadata(ctx); err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("checking table %q: %w", spec.Name, err)
			}
			if !create || len(spec.Schema) == 0 {
				return fmt.Errorf("table %q does not exist", spec.Name)
			}
			if err := table.Create(ctx, tableMetadata(spec)); err != nil && !isConflict(err) {
				return fmt.Errorf("creating table %q: %w", spec.Name, err)
			}
			c.logCreated(ctx, spec.Name)
		}
	}
	return nil
}

func (c *Client) logCreated(ctx context.Context, name string) {
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "bigquery_resource", name), "bigquery resource created")
	}
}

// Ping re-checks the dataset and tables. It never creates anything.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	return c.ensure(ctx, false)
}

// InsertRows streams rows into table. Rows may be structs or bigquery.ValueSaver values;
// savers carrying an insert ID get BigQuery's best-effort deduplication.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return apiStatus(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiStatus(err) == http.StatusConflict
}

func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code
	}
	return 0
}
