// Package elasticsearch implements index.Backend on Elasticsearch.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/index"
)

const (
	// DefaultIndex is the index name used when none is configured.
	DefaultIndex = "discord-guilds"
	// DefaultBatchSize bounds the documents sent per bulk request.
	DefaultBatchSize = 500
)

// Config holds connection settings.
type Config struct {
	Addresses  []string
	Index      string
	APIKey     string
	Username   string
	Password   string
	MaxRetries int
	BatchSize  int
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Backend writes catalog entries into one index.
type Backend struct {
	client    *es.Client
	index     string
	batchSize int
	logger    *zap.Logger
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			index.PrimaryKey: map[string]any{"type": "keyword"},
			"observed_at":    map[string]any{"type": "date", "format": "epoch_second"},
			"invite": map[string]any{
				"properties": map[string]any{
					"code":       map[string]any{"type": "keyword"},
					"expires_at": map[string]any{"type": "date"},
					"guild": map[string]any{
						"properties": map[string]any{
							"id":              map[string]any{"type": "keyword"},
							"name":            map[string]any{"type": "text"},
							"description":     map[string]any{"type": "text"},
							"features":        map[string]any{"type": "keyword"},
							"vanity_url_code": map[string]any{"type": "keyword"},
						},
					},
					"approximate_member_count":   map[string]any{"type": "integer"},
					"approximate_presence_count": map[string]any{"type": "integer"},
				},
			},
		},
	},
}

// New builds a Backend. It does not contact the cluster.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("at least one elasticsearch address is required")
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	client, err := es.NewClient(es.Config{
		Addresses:  cfg.Addresses,
		APIKey:     cfg.APIKey,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
		Transport:  cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client:    client,
		index:     cfg.Index,
		batchSize: cfg.BatchSize,
		logger:    logger.Named("elasticsearch"),
	}, nil
}

// Index returns the target index name.
func (b *Backend) Index() string {
	return b.index
}

// Ping reports whether the cluster answers.
func (b *Backend) Ping(ctx context.Context) error {
	res, err := b.client.Ping(b.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer b.closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: %s", res.String())
	}
	return nil
}

// EnsureIndex creates the index with its mapping unless it already exists.
func (b *Backend) EnsureIndex(ctx context.Context) error {
	res, err := b.client.Indices.Exists([]string{b.index}, b.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", b.index, err)
	}
	b.closeResponse(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: unexpected status %d", b.index, res.StatusCode)
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	res, err = b.client.Indices.Create(
		b.index,
		b.client.Indices.Create.WithContext(ctx),
		b.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", b.index, err)
	}
	defer b.closeResponse(res)
	if res.IsError() {
		msg := res.String()
		if strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", b.index, msg)
	}
	b.logger.Info("Created index", zap.String("index", b.index))
	return nil
}

// DeleteAll removes every document and refreshes the index.
func (b *Backend) DeleteAll(ctx context.Context) error {
	query := strings.NewReader(`{"query":{"match_all":{}}}`)
	res, err := b.client.DeleteByQuery(
		[]string{b.index},
		query,
		b.client.DeleteByQuery.WithContext(ctx),
		b.client.DeleteByQuery.WithRefresh(true),
		b.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("delete documents in %s: %w", b.index, err)
	}
	defer b.closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("delete documents in %s: %s", b.index, res.String())
	}

	var out struct {
		Deleted  int64             `json:"deleted"`
		Failures []json.RawMessage `json:"failures"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode delete response: %w", err)
	}
	if len(out.Failures) > 0 {
		return fmt.Errorf("delete documents in %s: %d failures, first: %s", b.index, len(out.Failures), out.Failures[0])
	}
	b.logger.Debug("Deleted documents", zap.Int64("deleted", out.Deleted))
	return nil
}

// AddDocuments bulk-indexes entries keyed by their ID.
func (b *Backend) AddDocuments(ctx context.Context, entries []catalog.Entry) error {
	for start := 0; start < len(entries); start += b.batchSize {
		end := min(start+b.batchSize, len(entries))
		if err := b.bulk(ctx, entries[start:end]); err != nil {
			return fmt.Errorf("bulk documents %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (b *Backend) bulk(ctx context.Context, entries []catalog.Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		meta := map[string]any{"index": map[string]any{"_index": b.index, "_id": entry.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode meta: %w", err)
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode entry %s: %w", entry.ID, err)
		}
	}

	res, err := b.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		b.client.Bulk.WithContext(ctx),
		b.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer b.closeResponse(res)
	if res.IsError() {
		return fmt.Errorf("bulk indexing error: %s", res.String())
	}
	return checkBulkItems(res.Body)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func checkBulkItems(body io.Reader) error {
	var out bulkResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	var failed []string
	for _, item := range out.Items {
		for _, result := range item {
			if result.Error != nil {
				failed = append(failed, fmt.Sprintf("%s: %s: %s", result.ID, result.Error.Type, result.Error.Reason))
			}
		}
	}
	if len(failed) == 0 {
		return errors.New("bulk response reported errors without item details")
	}
	return fmt.Errorf("%d documents rejected, first: %s", len(failed), failed[0])
}

func (b *Backend) closeResponse(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	if err := res.Body.Close(); err != nil {
		b.logger.Warn("Error closing response body", zap.Error(err))
	}
}

var _ index.Backend = (*Backend)(nil)
