package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/codeclash/proctor/logger"
)

// Sink receives activity events for one participant session. Delivery is
// fire-and-forget: implementations log and drop on failure rather than block
// gameplay.
type Sink interface {
	Record(ctx context.Context, contestID string, sessionID string, ev Event)
}

// BackendSink forwards each event to the contest backend's activity endpoint.
type BackendSink struct {
	baseURL string
	http    *http.Client
}

func NewBackendSink(baseURL string) *BackendSink {
	return &BackendSink{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *BackendSink) Record(ctx context.Context, contestID string, sessionID string, ev Event) {
	log := logger.FromContext(ctx)

	body := map[string]any{
		"type":      ev.Type,
		"sessionId": sessionID,
		"timestamp": ev.Timestamp,
	}
	for k, v := range ev.Payload {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		log.Warn("dropping activity event, marshal failed", "type", ev.Type, "error", err)
		return
	}

	url := fmt.Sprintf("%s/api/contests/%s/activity", s.baseURL, contestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		log.Warn("dropping activity event, request build failed", "type", ev.Type, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		log.Warn("dropping activity event, delivery failed", "type", ev.Type, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn("dropping activity event, backend rejected it",
			"type", ev.Type, "status", resp.StatusCode)
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, contestID string, sessionID string, ev Event) {
	for _, s := range m {
		s.Record(ctx, contestID, sessionID, ev)
	}
}

// DiscardSink drops everything. Used when no backend is configured.
type DiscardSink struct{}

func (DiscardSink) Record(ctx context.Context, contestID string, sessionID string, ev Event) {}
