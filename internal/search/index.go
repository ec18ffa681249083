package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/Skotchmaster/restaurant/internal/models"
)

// Document is the back-office view of an order.
type Document struct {
	ID            string    `json:"id"`
	OrderCode     string    `json:"order_code"`
	PickupCode    string    `json:"pickup_code"`
	Status        string    `json:"status"`
	Channel       string    `json:"channel"`
	PaymentMethod string    `json:"payment_method"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	CustomerNote  string    `json:"customer_note"`
	Items         []string  `json:"items"`
	PromotionCode string    `json:"promotion_code,omitempty"`
	Total         int64     `json:"total"`
	Paid          bool      `json:"paid"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func FromOrder(o *models.OrderHeader) Document {
	doc := Document{
		ID:            o.ID.String(),
		OrderCode:     o.OrderCode,
		PickupCode:    o.PickupCode,
		Status:        string(o.Status),
		Channel:       string(o.Channel),
		PaymentMethod: string(o.PaymentMethod),
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		CustomerNote:  o.CustomerNote,
		Total:         o.Total,
		Paid:          o.PaidAt != nil,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.PromotionCode != nil {
		doc.PromotionCode = *o.PromotionCode
	}
	for _, d := range o.Details {
		if !d.IsCancelled {
			doc.Items = append(doc.Items, d.MenuItemName)
		}
	}
	return doc
}

const mapping = `{
  "mappings": {
    "properties": {
      "id":             {"type": "keyword"},
      "order_code":     {"type": "keyword"},
      "pickup_code":    {"type": "keyword"},
      "status":         {"type": "keyword"},
      "channel":        {"type": "keyword"},
      "payment_method": {"type": "keyword"},
      "customer_name":  {"type": "text"},
      "customer_phone": {"type": "keyword"},
      "customer_note":  {"type": "text"},
      "items":          {"type": "text"},
      "promotion_code": {"type": "keyword"},
      "total":          {"type": "long"},
      "paid":           {"type": "boolean"},
      "version":        {"type": "long"},
      "created_at":     {"type": "date"},
      "updated_at":     {"type": "date"}
    }
  }
}`

// Index stores order documents in one Elasticsearch index.
type Index struct {
	ES   *elasticsearch.Client
	Name string
}

func (i *Index) Ensure(ctx context.Context) error {
	res, err := i.ES.Indices.Exists([]string{i.Name}, i.ES.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("es exists %s: %w", i.Name, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = i.ES.Indices.Create(i.Name,
		i.ES.Indices.Create.WithContext(ctx),
		i.ES.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("es create %s: %w", i.Name, err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(readBody(res.Body), "resource_already_exists_exception") {
		return fmt.Errorf("es create %s: %s", i.Name, res.Status())
	}
	return nil
}

// Upsert writes doc with external versioning, so a late write of an older
// version is refused by the cluster instead of overwriting a newer one.
func (i *Index) Upsert(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := i.ES.Index(i.Name, bytes.NewReader(body),
		i.ES.Index.WithContext(ctx),
		i.ES.Index.WithDocumentID(doc.ID),
		i.ES.Index.WithVersion(int(doc.Version)),
		i.ES.Index.WithVersionType("external_gte"),
	)
	if err != nil {
		return fmt.Errorf("es index %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusConflict {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("es index %s: %s: %s", doc.ID, res.Status(), readBody(res.Body))
	}
	return nil
}

func (i *Index) Delete(ctx context.Context, id string) error {
	res, err := i.ES.Delete(i.Name, id, i.ES.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("es delete %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("es delete %s: %s", id, res.Status())
	}
	return nil
}

type Results struct {
	Total int64      `json:"total"`
	Items []Document `json:"items"`
}

// Search matches q against codes, customer fields and item names, newest
// first among equal scores. statuses narrows the result when non-empty.
func (i *Index) Search(ctx context.Context, q string, statuses []string, from, size int) (Results, error) {
	q = strings.TrimSpace(q)
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	if from < 0 {
		from = 0
	}

	must := []any{map[string]any{"match_all": map[string]any{}}}
	if q != "" {
		must = []any{map[string]any{
			"multi_match": map[string]any{
				"query":     q,
				"fields":    []string{"order_code^3", "pickup_code^3", "customer_name^2", "customer_phone", "items", "customer_note"},
				"fuzziness": "AUTO",
				"lenient":   true,
			},
		}}
	}
	boolQuery := map[string]any{"must": must}
	if len(statuses) > 0 {
		boolQuery["filter"] = []any{map[string]any{"terms": map[string]any{"status": statuses}}}
	}
	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"sort":  []any{"_score", map[string]any{"created_at": "desc"}},
		"from":  from,
		"size":  size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return Results{}, err
	}

	res, err := i.ES.Search(
		i.ES.Search.WithContext(ctx),
		i.ES.Search.WithIndex(i.Name),
		i.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return Results{}, fmt.Errorf("es search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return Results{}, fmt.Errorf("es search: %s: %s", res.Status(), readBody(res.Body))
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return Results{}, err
	}

	out := Results{Total: r.Hits.Total.Value, Items: make([]Document, len(r.Hits.Hits))}
	for n, hit := range r.Hits.Hits {
		out.Items[n] = hit.Source
	}
	return out, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}
