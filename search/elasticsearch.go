package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/utils"
)

type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	IndexName string
}

// ElasticIndex writes settlement documents to Elasticsearch.
type ElasticIndex struct {
	es    *elasticsearch.Client
	index string
}

func NewElasticIndex(cfg ElasticConfig) (*ElasticIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticIndex{es: es, index: cfg.IndexName}, nil
}

func (e *ElasticIndex) Enabled() bool { return true }

func (e *ElasticIndex) Upsert(ctx context.Context, doc SettlementDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := e.es.Index(
		e.index,
		bytes.NewReader(body),
		e.es.Index.WithDocumentID(docID(doc.SettlementID)),
		e.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index settlement %d: %w", doc.SettlementID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index", res)
	}
	return nil
}

// Delete treats a missing document as already deleted.
func (e *ElasticIndex) Delete(ctx context.Context, settlementID uint) error {
	res, err := e.es.Delete(e.index, docID(settlementID), e.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete settlement %d: %w", settlementID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete", res)
	}
	return nil
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

func (e *ElasticIndex) BulkUpsert(ctx context.Context, docs []SettlementDocument) (map[uint]error, error) {
	failed := make(map[uint]error)
	if len(docs) == 0 {
		return failed, nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]map[string]string{"index": {"_id": docID(doc.SettlementID)}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return nil, err
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
	}

	res, err := e.es.Bulk(&buf, e.es.Bulk.WithIndex(e.index), e.es.Bulk.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bulk index %d settlements: %w", len(docs), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return failed, nil
	}

	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < 300 {
				continue
			}
			id, err := strconv.ParseUint(result.ID, 10, 64)
			if err != nil {
				utils.ErrorLogger.Warnf("Bulk response carried unknown id %q", result.ID)
				continue
			}
			reason := fmt.Sprintf("status %d", result.Status)
			if result.Error != nil {
				reason = result.Error.Type + ": " + result.Error.Reason
			}
			failed[uint(id)] = fmt.Errorf("bulk item %s failed: %s", result.ID, reason)
		}
	}
	utils.ErrorLogger.WithFields(logrus.Fields{
		"index":  e.index,
		"total":  len(docs),
		"failed": len(failed),
	}).Warn("Bulk index finished with item errors")
	return failed, nil
}

func docID(settlementID uint) string {
	return strconv.FormatUint(uint64(settlementID), 10)
}

func responseError(op string, res *esapi.Response) error {
	return fmt.Errorf("elasticsearch %s failed: %s", op, res.String())
}
