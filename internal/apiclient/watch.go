package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
)

// watchURL maps http(s)://host/api to ws(s)://host/ws/trips/{id}.
func (c *Client) watchURL(tripID int64) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api") + "/ws/trips/" + id(tripID)
	u.RawQuery = ""
	return u.String(), nil
}

// WatchTrip streams the events the server publishes for a trip. The channel
// closes when ctx ends or the server drops the connection.
func (c *Client) WatchTrip(ctx context.Context, tripID int64) (<-chan models.TripEvent, error) {
	if !c.Authenticated() {
		c.endSession()
		return nil, apperr.Auth("your session has expired, please sign in again")
	}
	target, err := c.watchURL(tripID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "", fmt.Errorf("apiclient: watch url: %w", err))
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.Token())
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			e := apperr.FromHTTP(resp.StatusCode, "", "trip feed unavailable")
			if e.Kind == apperr.KindAuth {
				c.endSession()
			}
			return nil, e
		}
		return nil, apperr.Wrap(apperr.KindInternal, "", fmt.Errorf("apiclient: dial %s: %w", target, err))
	}

	out := make(chan models.TripEvent, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var ev models.TripEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					c.logger.Info("trip feed closed", "trip_id", tripID, "error", err)
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
