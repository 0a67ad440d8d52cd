package roles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/routing"
)

// Query is what the data_query agent asks its source for.
type Query struct {
	Intent    string
	Action    string
	Message   string
	SessionID string
}

// DataSource fetches entity data for a classified request.
type DataSource interface {
	Fetch(ctx context.Context, q Query) (string, error)
}

// DataQueryAgent answers the data_query step from a DataSource.
type DataQueryAgent struct {
	source DataSource
}

func NewDataQueryAgent(source DataSource) *DataQueryAgent {
	return &DataQueryAgent{source: source}
}

func (a *DataQueryAgent) Name() string { return string(routing.TokenDataQuery) }

func (a *DataQueryAgent) Run(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	q := Query{Message: req.Message, SessionID: req.SessionID}
	if req.State != nil {
		q.Intent, _ = req.State.ClassificationField("intent").(string)
		q.Action, _ = req.State.ClassificationField("action").(string)
	}
	if q.Intent == "" {
		return orchestrator.Response{}, fmt.Errorf("data_query: request has no intent")
	}

	data, err := a.source.Fetch(ctx, q)
	if err != nil {
		return orchestrator.Response{}, fmt.Errorf("data_query %s: %w", q.Intent, err)
	}
	return orchestrator.Response{
		Text:     data,
		Metadata: map[string]any{"intent": q.Intent, "action": q.Action},
	}, nil
}

// StaticSource serves fixed payloads keyed by intent.
type StaticSource map[string]string

func (s StaticSource) Fetch(_ context.Context, q Query) (string, error) {
	data, ok := s[q.Intent]
	if !ok {
		return "", fmt.Errorf("no data for intent %q", q.Intent)
	}
	return data, nil
}

// HTTPSource issues GET {BaseURL}/{intent}?action=...&q=... and returns the body.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

const maxBodyBytes = 1 << 20

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, q Query) (string, error) {
	params := url.Values{}
	if q.Action != "" {
		params.Set("action", q.Action)
	}
	params.Set("q", q.Message)
	target := s.BaseURL + "/" + url.PathEscape(q.Intent) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	if q.SessionID != "" {
		req.Header.Set("X-Session-ID", q.SessionID)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("data source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
