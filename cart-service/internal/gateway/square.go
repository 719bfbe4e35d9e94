package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const (
	batchRetrieveCountsPath = "/v2/inventory/counts/batch-retrieve"
	defaultSquareTimeout    = 10 * time.Second
)

var ErrUpstream = errors.New("inventory upstream error")

type SquareConfig struct {
	BaseURL     string
	AccessToken string
	APIVersion  string
	LocationIDs []string
	Timeout     time.Duration
}

// SquareClient reads IN_STOCK counts from the Square Inventory API.
// Identical concurrent queries share one upstream call.
type SquareClient struct {
	http      *resty.Client
	locations []string
	timeout   time.Duration
	sfg       singleflight.Group
	log       *slog.Logger
}

func NewSquareClient(cfg SquareConfig, log *slog.Logger) *SquareClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSquareTimeout
	}
	client := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIVersion != "" {
		client.SetHeader("Square-Version", cfg.APIVersion)
	}

	return &SquareClient{
		http:      client,
		locations: cfg.LocationIDs,
		timeout:   cfg.Timeout,
		log:       log,
	}
}

type batchRetrieveCountsRequest struct {
	CatalogObjectIDs []string `json:"catalog_object_ids"`
	LocationIDs      []string `json:"location_ids,omitempty"`
	States           []string `json:"states"`
	Cursor           string   `json:"cursor,omitempty"`
}

type inventoryCount struct {
	CatalogObjectID string `json:"catalog_object_id"`
	State           string `json:"state"`
	LocationID      string `json:"location_id"`
	Quantity        string `json:"quantity"`
}

type batchRetrieveCountsResponse struct {
	Counts []inventoryCount `json:"counts"`
	Cursor string           `json:"cursor"`
}

type squareErrorResponse struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

func (e squareErrorResponse) String() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", err.Category, err.Code, err.Detail))
	}
	return strings.Join(parts, "; ")
}

// QueryStock returns the in-stock quantity per requested id, summed over the
// configured locations. Ids Square knows nothing about are left out.
func (c *SquareClient) QueryStock(ctx context.Context, ids []string) (map[string]int, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return map[string]int{}, nil
	}

	// the shared fetch outlives any single caller
	ch := c.sfg.DoChan(strings.Join(ids, ","), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fetchCtx, ids)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.log.DebugContext(ctx, "inventory query shared", "ids", len(ids))
	}

	counts := res.Val.(map[string]int)
	out := make(map[string]int, len(counts))
	for id, q := range counts {
		out[id] = q
	}
	return out, nil
}

func (c *SquareClient) fetch(ctx context.Context, ids []string) (map[string]int, error) {
	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}

	totals := make(map[string]decimal.Decimal, len(ids))
	req := batchRetrieveCountsRequest{
		CatalogObjectIDs: ids,
		LocationIDs:      c.locations,
		States:           []string{"IN_STOCK"},
	}

	for {
		var out batchRetrieveCountsResponse
		var apiErr squareErrorResponse

		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			SetError(&apiErr).
			Post(batchRetrieveCountsPath)
		if err != nil {
			return nil, fmt.Errorf("square inventory request failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode(), apiErr)
		}

		for _, count := range out.Counts {
			if _, ok := requested[count.CatalogObjectID]; !ok || count.State != "IN_STOCK" {
				continue
			}
			q, errParse := decimal.NewFromString(count.Quantity)
			if errParse != nil {
				c.log.WarnContext(ctx, "unparseable inventory quantity",
					"catalog_object_id", count.CatalogObjectID, "quantity", count.Quantity)
				continue
			}
			totals[count.CatalogObjectID] = totals[count.CatalogObjectID].Add(q)
		}

		if out.Cursor == "" {
			break
		}
		if out.Cursor == req.Cursor {
			return nil, fmt.Errorf("%w: pagination cursor repeated", ErrUpstream)
		}
		req.Cursor = out.Cursor
	}

	stock := make(map[string]int, len(totals))
	for id, q := range totals {
		n := int(q.Floor().IntPart())
		if n < 0 {
			n = 0
		}
		stock[id] = n
	}
	return stock, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
