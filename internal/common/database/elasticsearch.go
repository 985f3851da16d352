// internal/common/database/elasticsearch.go
package database

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"podpiska-billing/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
)

// journalMapping keeps ids and event types as exact-match keywords so the
// operator can filter a user's history.
const journalMapping = `{
  "mappings": {
    "properties": {
      "type":          {"type": "keyword"},
      "userId":        {"type": "long"},
      "trackingId":    {"type": "keyword"},
      "transactionId": {"type": "keyword"},
      "amount":        {"type": "long"},
      "currency":      {"type": "keyword"},
      "reason":        {"type": "text"},
      "cycleId":       {"type": "keyword"},
      "at":            {"type": "date"}
    }
  }
}`

// ElasticsearchClient holds the billing journal connection.
type ElasticsearchClient struct {
	Client *elasticsearch.Client
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticsearchClient{Client: es}, nil
}

func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the journal index with its mapping when it does not
// exist yet.
func (c *ElasticsearchClient) EnsureIndex(ctx context.Context, index string) error {
	exists, err := c.Client.Indices.Exists([]string{index}, c.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch index check failed: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	res, err := c.Client.Indices.Create(index,
		c.Client.Indices.Create.WithContext(ctx),
		c.Client.Indices.Create.WithBody(strings.NewReader(journalMapping)),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch index create failed: %w", err)
	}
	defer res.Body.Close()

	// Another replica may have created it between the two calls.
	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("elasticsearch index create error: %s", res.Status())
	}
	return nil
}
