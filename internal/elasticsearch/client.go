package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"auditwatch/internal/config"
	"auditwatch/internal/events"
	"auditwatch/internal/notification"
)

// EventDocument is the indexed form of an audit event.
type EventDocument struct {
	EventID     string            `json:"event_id"`
	KindID      int               `json:"kind_id"`
	Severity    string            `json:"severity"`
	Description string            `json:"description,omitempty"`
	Timestamp   time.Time         `json:"@timestamp"`
	UserID      int64             `json:"user_id,omitempty"`
	Username    string            `json:"username,omitempty"`
	UserRoles   []string          `json:"user_roles,omitempty"`
	SourceIP    string            `json:"source_ip,omitempty"`
	PostID      int64             `json:"post_id,omitempty"`
	PostType    string            `json:"post_type,omitempty"`
	PostStatus  string            `json:"post_status,omitempty"`
	Object      string            `json:"object,omitempty"`
	EventType   string            `json:"event_type,omitempty"`
	SiteID      int64             `json:"site_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Geo         *GeoInfo          `json:"geo,omitempty"`
}

// GeoInfo 来源 IP 的地理位置
type GeoInfo struct {
	Country  string   `json:"country,omitempty"`
	Region   string   `json:"region,omitempty"`
	City     string   `json:"city,omitempty"`
	ISP      string   `json:"isp,omitempty"`
	Location GeoPoint `json:"location"`
}

// GeoPoint uses the geo_point object form.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NewEventDocument 将审计事件转换为索引文档
func NewEventDocument(e *notification.Event, kind events.Kind, severity events.Severity) *EventDocument {
	return &EventDocument{
		EventID:     e.ID,
		KindID:      e.KindID,
		Severity:    string(severity),
		Description: kind.Description,
		Timestamp:   e.Timestamp.UTC(),
		UserID:      e.UserID,
		Username:    e.Username,
		UserRoles:   slices.Clone(e.UserRoles),
		SourceIP:    e.SourceIP,
		PostID:      e.PostID,
		PostType:    e.PostType,
		PostStatus:  e.PostStatus,
		Object:      e.Object,
		EventType:   e.EventType,
		SiteID:      e.SiteID,
		Metadata:    maps.Clone(e.Metadata),
	}
}

type Client struct {
	es     *elasticsearch.Client
	config config.ElasticsearchConfig
	logger *zap.Logger
}

// NewClient returns nil, nil when Elasticsearch is disabled; every method
// treats a nil client as a no-op.
func NewClient(cfg config.ElasticsearchConfig, log *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	// 测试连接
	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	log.Info("Elasticsearch client initialized", zap.Strings("addresses", cfg.Addresses))

	return &Client{es: es, config: cfg, logger: log}, nil
}

// indexName 按事件日期滚动索引
func (c *Client) indexName(t time.Time) string {
	return fmt.Sprintf("%s-%s", c.config.IndexPrefix, t.UTC().Format("2006.01.02"))
}

func (c *Client) indexPattern() string {
	return c.config.IndexPrefix + "-*"
}

// IndexEvent 索引事件到 Elasticsearch，事件 ID 作为文档 ID 保证重复写入幂等
func (c *Client) IndexEvent(ctx context.Context, doc *EventDocument) error {
	if c == nil || c.es == nil {
		return nil
	}

	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal event document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.indexName(doc.Timestamp),
		DocumentID: doc.EventID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.String())
	}

	c.logger.Debug("Event indexed",
		zap.String("index", c.indexName(doc.Timestamp)),
		zap.String("event_id", doc.EventID),
		zap.Int("kind_id", doc.KindID))

	return nil
}

// SearchQuery 搜索条件
type SearchQuery struct {
	KindID    *int       `json:"kind_id,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	Username  string     `json:"username,omitempty"`
	SourceIP  string     `json:"source_ip,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Size      int        `json:"size,omitempty"`
	From      int        `json:"from,omitempty"`
	QueryText string     `json:"query_text,omitempty"`
}

type SearchResult struct {
	Total int64           `json:"total"`
	Hits  []EventDocument `json:"hits"`
}

func (q *SearchQuery) filters() []map[string]interface{} {
	must := []map[string]interface{}{}

	if q.KindID != nil {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"kind_id": *q.KindID},
		})
	}
	if q.Severity != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"severity": q.Severity},
		})
	}
	if q.Username != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"username": q.Username},
		})
	}
	if q.SourceIP != "" {
		must = append(must, map[string]interface{}{
			"term": map[string]interface{}{"source_ip": q.SourceIP},
		})
	}

	// 时间范围过滤
	if q.StartTime != nil || q.EndTime != nil {
		rangeQuery := map[string]interface{}{}
		if q.StartTime != nil {
			rangeQuery["gte"] = q.StartTime.Format(time.RFC3339)
		}
		if q.EndTime != nil {
			rangeQuery["lte"] = q.EndTime.Format(time.RFC3339)
		}
		must = append(must, map[string]interface{}{
			"range": map[string]interface{}{"@timestamp": rangeQuery},
		})
	}

	// 全文搜索
	if q.QueryText != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.QueryText,
				"fields": []string{"description", "username", "object", "event_type"},
			},
		})
	}
	return must
}

// SearchEvents 搜索事件
func (c *Client) SearchEvents(ctx context.Context, query *SearchQuery) (*SearchResult, error) {
	if c == nil || c.es == nil {
		return &SearchResult{Total: 0, Hits: []EventDocument{}}, nil
	}

	// 设置分页
	if query.Size <= 0 {
		query.Size = 20
	}
	if query.Size > 100 {
		query.Size = 100 // 最大 100 条
	}

	searchBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": query.filters()},
		},
		"size": query.Size,
		"from": query.From,
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	var response struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source EventDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.search(ctx, searchBody, &response); err != nil {
		return nil, err
	}

	result := &SearchResult{
		Total: response.Hits.Total.Value,
		Hits:  make([]EventDocument, 0, len(response.Hits.Hits)),
	}
	for _, hit := range response.Hits.Hits {
		result.Hits = append(result.Hits, hit.Source)
	}

	c.logger.Debug("Event search completed",
		zap.Int64("total", result.Total),
		zap.Int("returned", len(result.Hits)))

	return result, nil
}

// Bucket is one terms aggregation bucket.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// EventStats 事件统计
type EventStats struct {
	Total      int64    `json:"total"`
	ByKind     []Bucket `json:"by_kind"`
	BySeverity []Bucket `json:"by_severity"`
	TopUsers   []Bucket `json:"top_users"`
	TopIPs     []Bucket `json:"top_ips"`
}

// GetEventStats 获取时间范围内的事件统计
func (c *Client) GetEventStats(ctx context.Context, startTime, endTime time.Time) (*EventStats, error) {
	if c == nil || c.es == nil {
		return &EventStats{}, nil
	}

	terms := func(field string, size int) map[string]interface{} {
		return map[string]interface{}{
			"terms": map[string]interface{}{"field": field, "size": size},
		}
	}

	query := map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"@timestamp": map[string]interface{}{
					"gte": startTime.Format(time.RFC3339),
					"lte": endTime.Format(time.RFC3339),
				},
			},
		},
		"aggs": map[string]interface{}{
			"by_kind":     terms("kind_id", 50),
			"by_severity": terms("severity", 10),
			"top_users":   terms("username", 10),
			"top_ips":     terms("source_ip", 10),
		},
	}

	type bucket struct {
		Key      json.RawMessage `json:"key"`
		DocCount int64           `json:"doc_count"`
	}
	type agg struct {
		Buckets []bucket `json:"buckets"`
	}
	var response struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			ByKind     agg `json:"by_kind"`
			BySeverity agg `json:"by_severity"`
			TopUsers   agg `json:"top_users"`
			TopIPs     agg `json:"top_ips"`
		} `json:"aggregations"`
	}
	if err := c.search(ctx, query, &response); err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}

	convert := func(a agg) []Bucket {
		out := make([]Bucket, 0, len(a.Buckets))
		for _, b := range a.Buckets {
			key := string(b.Key)
			var s string
			if json.Unmarshal(b.Key, &s) == nil {
				key = s
			}
			out = append(out, Bucket{Key: key, Count: b.DocCount})
		}
		return out
	}

	return &EventStats{
		Total:      response.Hits.Total.Value,
		ByKind:     convert(response.Aggregations.ByKind),
		BySeverity: convert(response.Aggregations.BySeverity),
		TopUsers:   convert(response.Aggregations.TopUsers),
		TopIPs:     convert(response.Aggregations.TopIPs),
	}, nil
}

func (c *Client) search(ctx context.Context, body map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal search query: %w", err)
	}

	// 执行搜索（使用索引通配符）
	req := esapi.SearchRequest{
		Index: []string{c.indexPattern()},
		Body:  bytes.NewReader(data),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to search events: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse search response: %w", err)
	}
	return nil
}

// CreateIndexTemplate 创建索引模板（如果不存在）
func (c *Client) CreateIndexTemplate(ctx context.Context) error {
	if c == nil || c.es == nil {
		return nil
	}

	templateName := fmt.Sprintf("%s-template", c.config.IndexPrefix)
	keyword := map[string]string{"type": "keyword"}

	template := map[string]interface{}{
		"index_patterns": []string{c.indexPattern()},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"refresh_interval":   "5s",
			},
			"mappings": map[string]interface{}{
				"properties": map[string]interface{}{
					"event_id":    keyword,
					"kind_id":     map[string]string{"type": "integer"},
					"severity":    keyword,
					"description": map[string]string{"type": "text"},
					"@timestamp":  map[string]string{"type": "date"},
					"user_id":     map[string]string{"type": "long"},
					"username":    keyword,
					"user_roles":  keyword,
					"source_ip":   keyword,
					"post_id":     map[string]string{"type": "long"},
					"post_type":   keyword,
					"post_status": keyword,
					"object":      keyword,
					"event_type":  keyword,
					"site_id":     map[string]string{"type": "long"},
					"metadata":    map[string]string{"type": "object"},
					"geo": map[string]interface{}{
						"properties": map[string]interface{}{
							"country":  keyword,
							"region":   keyword,
							"city":     keyword,
							"isp":      keyword,
							"location": map[string]string{"type": "geo_point"},
						},
					},
				},
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	req := esapi.IndicesPutIndexTemplateRequest{
		Name: templateName,
		Body: bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		c.logger.Warn("Failed to create index template", zap.String("response", res.String()))
	} else {
		c.logger.Info("Index template created", zap.String("template", templateName))
	}

	return nil
}
