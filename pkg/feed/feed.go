// Package feed fetches and decodes a GTFS-RT TripUpdates feed.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
)

const fetchTimeout = 30 * time.Second
const maxFetchRetries = 3

// TransportError is a failure to retrieve the raw feed bytes. Fatal to the
// cycle, not to the process.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is a malformed feed payload. Fatal to the cycle, not to the
// process.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding GTFS-RT payload: %s", e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Source provides one raw feed snapshot per call.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPSource fetches the feed over HTTP, retrying transient failures with
// exponential backoff before giving the cycle up.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: fetchTimeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", s.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}

		body, err = io.ReadAll(resp.Body)

		return err
	}

	retryBackoff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxFetchRetries)

	err := backoff.RetryNotify(operation, backoff.WithContext(retryBackoff, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("wait", wait.String()).Msg("Retrying feed fetch")
	})
	if err != nil {
		return nil, &TransportError{URL: s.URL, Err: err}
	}

	return body, nil
}

// Decode parses raw feed bytes into GTFS-RT entities.
func Decode(body []byte) ([]*gtfs.FeedEntity, error) {
	feedMessage := gtfs.FeedMessage{}

	if err := proto.Unmarshal(body, &feedMessage); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return feedMessage.Entity, nil
}
