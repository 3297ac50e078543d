// Package search maintains the posting search index. Open postings are
// indexed on creation and removed when they leave the open pool; every
// operation is best effort, the database stays authoritative.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"substitution-marketplace/internal/common/errors"
	"substitution-marketplace/internal/common/logger"
	"substitution-marketplace/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Indexer publishes postings to Elasticsearch.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search"}),
	}
}

// Index writes the posting document keyed by posting id, replacing any
// previous version.
func (i *Indexer) Index(ctx context.Context, p *models.SubstitutionPosting) error {
	doc := map[string]interface{}{
		"id":                   p.ID,
		"ownerType":            p.OwnerType,
		"requiredSpecialty":    p.RequiredSpecialty,
		"minimumYearsLicensed": p.MinimumYearsLicensed,
		"schedulingMode":       p.SchedulingMode,
		"compensationMode":     p.CompensationMode,
		"status":               string(p.Status),
		"createdAt":            p.CreatedAt,
		"expiresAt":            p.ExpiresAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.NewSearchIndexError("marshal posting", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: p.ID,
		Body:       strings.NewReader(string(body)),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return errors.NewSearchIndexError("index posting", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewSearchIndexError("index posting", fmt.Errorf("%s", res.String()))
	}

	i.logger.Debug("posting indexed", map[string]interface{}{"postingId": p.ID})
	return nil
}

// Remove deletes the posting document. A missing document is not an error;
// the posting may never have been indexed.
func (i *Indexer) Remove(ctx context.Context, postingID string) error {
	req := esapi.DeleteRequest{
		Index:      i.index,
		DocumentID: postingID,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return errors.NewSearchIndexError("remove posting", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return errors.NewSearchIndexError("remove posting", fmt.Errorf("%s", res.String()))
	}
	return nil
}

// Query describes a posting search.
type Query struct {
	Specialty     string
	MaxYearsAsked int
	Size          int
}

// Search returns ids of open postings matching the query, newest first.
func (i *Indexer) Search(ctx context.Context, q Query) ([]string, error) {
	mustClauses := []map[string]interface{}{
		{"term": map[string]interface{}{"status": string(models.StatusOpen)}},
	}
	if q.Specialty != "" {
		mustClauses = append(mustClauses, map[string]interface{}{
			"term": map[string]interface{}{"requiredSpecialty": q.Specialty},
		})
	}
	if q.MaxYearsAsked > 0 {
		mustClauses = append(mustClauses, map[string]interface{}{
			"range": map[string]interface{}{
				"minimumYearsLicensed": map[string]interface{}{"lte": q.MaxYearsAsked},
			},
		})
	}

	size := q.Size
	if size <= 0 {
		size = 50
	}
	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": mustClauses},
		},
		"sort": []map[string]interface{}{
			{"createdAt": map[string]interface{}{"order": "desc"}},
		},
		"size": size,
	}

	body, err := json.Marshal(queryBody)
	if err != nil {
		return nil, errors.NewSearchIndexError("marshal query", err)
	}

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  strings.NewReader(string(body)),
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, errors.NewSearchIndexError("search postings", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewSearchIndexError("search postings", fmt.Errorf("%s", res.String()))
	}

	var r map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, errors.NewSearchIndexError("decode search response", err)
	}

	hitsWrapper, ok := r["hits"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	hits, ok := hitsWrapper["hits"].([]interface{})
	if !ok {
		return nil, nil
	}

	var ids []string
	for _, hit := range hits {
		h, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := h["_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
