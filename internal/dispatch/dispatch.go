package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/observability"
)

// Sink receives trip events after a mutation has been committed.
type Sink interface {
	Publish(ctx context.Context, ev models.TripEvent) error
}

// Fanout delivers each event to every sink. A failing sink is logged and
// does not stop delivery to the others; the joined error is returned.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	out := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (f *Fanout) Publish(ctx context.Context, ev models.TripEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.logger.Warn("trip event delivery failed", "type", ev.Type, "trip_id", ev.TripID, "sink", fmt.Sprintf("%T", s), "error", err)
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	observability.EventsPublished.WithLabelValues(string(ev.Type), observability.Result(err)).Inc()
	return err
}

// WebhookSink POSTs events as JSON to an external notification endpoint.
type WebhookSink struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookSink(endpoint string) *WebhookSink {
	return &WebhookSink{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookSink) Publish(ctx context.Context, ev models.TripEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
