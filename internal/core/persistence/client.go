// Package persistence saves full document snapshots through the document
// service's request/response API, independently of the live session.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/pkg/errors"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

// SavedDocument is the body of a save request.
type SavedDocument struct {
	Title   string       `json:"title"`
	Content *delta.Delta `json:"content"`
}

// Config holds configuration for the persistence client
type Config struct {
	// BaseURL of the document service, e.g. http://localhost:8081.
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token   string
	Timeout time.Duration
}

// DefaultConfig returns default persistence configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8081",
		Timeout: 15 * time.Second,
	}
}

// Stats summarizes save requests.
type Stats struct {
	Saves    uint64
	Failures uint64
	// AvgLatency is a moving average over the latest saves.
	AvgLatency time.Duration
}

// Client issues save and load requests. It keeps no copy of what it saved.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     log.Log

	statsMu  sync.Mutex
	latency  *movingaverage.MovingAverage
	saves    uint64
	failures uint64
}

// New creates a persistence client.
func New(config Config, logger log.Log) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With(log.String("component", "persistence")),
		latency:    movingaverage.New(10),
	}
}

// Save stores the full snapshot of document id with a single PUT request.
func (c *Client) Save(ctx context.Context, id protocol.DocumentID, doc SavedDocument) error {
	if doc.Content == nil {
		doc.Content = delta.New()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(ErrSaveFailed, err.Error())
	}

	endpoint, err := c.documentURL(id)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(ErrSaveFailed, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.record(elapsed, false)
		err = errors.Wrap(ErrSaveFailed, err.Error())
		c.logger.Error("Failed to save document", log.Int64("document_id", int64(id)), log.Error(err))
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(elapsed, false)
		err = errors.Wrapf(ErrSaveFailed, "unexpected status %d", resp.StatusCode)
		c.logger.Error("Failed to save document",
			log.Int64("document_id", int64(id)),
			log.Int("status", resp.StatusCode),
			log.Error(err))
		return err
	}

	c.record(elapsed, true)
	c.logger.Info("Document saved",
		log.Int64("document_id", int64(id)),
		log.Int("length", doc.Content.Length()),
		log.String("fingerprint", fmt.Sprintf("%016x", doc.Content.Fingerprint())),
		log.Duration("latency", elapsed))
	return nil
}

// Load fetches the stored title and content of document id.
func (c *Client) Load(ctx context.Context, id protocol.DocumentID) (SavedDocument, error) {
	endpoint, err := c.documentURL(id)
	if err != nil {
		return SavedDocument{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SavedDocument{}, errors.Wrap(ErrLoadFailed, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SavedDocument{}, errors.Wrap(ErrLoadFailed, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return SavedDocument{}, errors.Wrapf(ErrNotFound, "document %d", id)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return SavedDocument{}, errors.Wrapf(ErrLoadFailed, "unexpected status %d", resp.StatusCode)
	}

	var stored struct {
		Title   string          `json:"title"`
		Content json.RawMessage `json:"content"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return SavedDocument{}, errors.Wrap(ErrLoadFailed, err.Error())
	}

	content, err := decodeStoredContent(stored.Content)
	if err != nil {
		return SavedDocument{}, errors.Wrap(ErrLoadFailed, err.Error())
	}
	return SavedDocument{Title: stored.Title, Content: content}, nil
}

// Stats returns save statistics.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	stats := Stats{Saves: c.saves, Failures: c.failures}
	if c.saves+c.failures > 0 {
		stats.AvgLatency = time.Duration(c.latency.Avg() * float64(time.Millisecond))
	}
	return stats
}

func (c *Client) record(elapsed time.Duration, ok bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.latency.Add(float64(elapsed/time.Microsecond) / 1000.0)
	if ok {
		c.saves++
	} else {
		c.failures++
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
}

func (c *Client) documentURL(id protocol.DocumentID) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", errors.Wrapf(ErrInvalidConfig, "base url %q", c.config.BaseURL)
	}
	return base.JoinPath("documents", id.String()).String(), nil
}

// decodeStoredContent accepts content as a delta, or as a string holding
// either an encoded delta or plain text, which is how some services return
// a JSON column.
func decodeStoredContent(raw json.RawMessage) (*delta.Delta, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			raw = json.RawMessage(trimmed)
		}
	}
	if len(raw) == 0 {
		return delta.New(), nil
	}
	d := delta.New()
	if err := d.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return d, nil
}
