package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/runsvc/internal/history"
)

// document is the indexed shape of an event: flat fields so that dashboards
// can aggregate by service without nested mappings.
type document struct {
	Timestamp time.Time  `json:"@timestamp"`
	Type      string     `json:"event.type"`
	Service   string     `json:"service.name,omitempty"`
	PID       int        `json:"process.pid,omitempty"`
	StartedAt *time.Time `json:"process.start,omitempty"`
	ExitCode  int        `json:"process.exit_code"`
	Signal    string     `json:"process.signal,omitempty"`
	Detail    string     `json:"message,omitempty"`
}

func toDocument(e history.Event) document {
	d := document{
		Timestamp: e.OccurredAt.UTC(),
		Type:      string(e.Type),
		Service:   e.Record.Name,
		PID:       e.Record.PID,
		ExitCode:  e.Record.ExitCode,
		Signal:    e.Record.Signal,
		Detail:    e.Record.Detail,
	}
	if !e.Record.StartedAt.IsZero() {
		t := e.Record.StartedAt.UTC()
		d.StartedAt = &t
	}
	return d
}

// Sink indexes events into OpenSearch or Elasticsearch, one document per
// event, via POST {base}/{index}/_doc.
type Sink struct {
	client   *http.Client
	endpoint string
	user     string
	password string
}

type Option func(*Sink)

// WithBasicAuth sends credentials with every request.
func WithBasicAuth(user, password string) Option {
	return func(s *Sink) { s.user, s.password = user, password }
}

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

func New(baseURL, index string, opts ...Option) *Sink {
	s := &Sink{
		client:   &http.Client{Timeout: 5 * time.Second},
		endpoint: strings.TrimRight(baseURL, "/") + "/" + strings.Trim(index, "/") + "/_doc",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(toDocument(e))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", s.endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
