package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/busboard/busboard/pkg/feed"
)

func TestFetchReturnsFeedBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("feed bytes"))
	}))
	defer server.Close()

	source := feed.NewHTTPSource(server.URL)

	body, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("feed bytes"), body)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts += 1
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer server.Close()

	source := feed.NewHTTPSource(server.URL)

	body, err := source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), body)
	assert.Equal(t, 2, attempts)
}

func TestFetchReturnsTransportError(t *testing.T) {
	source := feed.NewHTTPSource("://not-a-url")

	_, err := source.Fetch(context.Background())
	require.Error(t, err)

	var transportErr *feed.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := feed.Decode([]byte("definitely not protobuf"))
	require.Error(t, err)

	var decodeErr *feed.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestDecodeFeedMessage(t *testing.T) {
	payload, err := proto.Marshal(&gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
		Entity: []*gtfs.FeedEntity{
			{Id: proto.String("1")},
			{Id: proto.String("2")},
		},
	})
	require.NoError(t, err)

	entities, err := feed.Decode(payload)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
}
