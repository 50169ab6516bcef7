package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
	"github.com/NotCoffee418/iec62056_meter/pkg/monitor"
	"github.com/NotCoffee418/iec62056_meter/pkg/port_reader"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	latest    *types.MeterReading
	readErr   error
	requested []string
}

func (f *fakeSource) GetLatestReading() *types.MeterReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeSource) ReadOnce(ctx context.Context, addresses []string) (*types.MeterReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = addresses
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.latest = &types.MeterReading{
		Timestamp:    "2024-03-01T12:00:00Z",
		ProtocolMode: "C",
		DataSets:     []types.DataSetReading{{Address: "1.8.0", Value: "1", Unit: "kWh"}},
	}
	return f.latest, nil
}

func (f *fakeSource) lastRequested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested
}

func newTestServer(t *testing.T, source *fakeSource) (*api, *httptest.Server) {
	t.Helper()
	a := newAPI(source, []string{"1.8.0"}, monitor.NewMetrics())
	srv := httptest.NewServer(a.routes())
	t.Cleanup(srv.Close)
	return a, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestIndex(t *testing.T) {
	_, srv := newTestServer(t, &fakeSource{})
	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/", &body))
	require.Equal(t, "running", body["status"])

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/nope", &body))
}

func TestLatest(t *testing.T) {
	source := &fakeSource{}
	_, srv := newTestServer(t, source)

	var errBody map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/latest", &errBody))

	_, err := source.ReadOnce(context.Background(), nil)
	require.NoError(t, err)
	var reading types.MeterReading
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/latest", &reading))
	require.Equal(t, "1.8.0", reading.DataSets[0].Address)
}

func TestRead(t *testing.T) {
	source := &fakeSource{}
	_, srv := newTestServer(t, source)

	var reading types.MeterReading
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/read", &reading))
	require.Equal(t, []string{"1.8.0"}, source.lastRequested())

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/read?address=2.8.0&address=P.01", &reading))
	require.Equal(t, []string{"2.8.0", "P.01"}, source.lastRequested())
}

func TestReadErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{port_reader.ErrListening, http.StatusConflict},
		{fmt.Errorf("read meter: %w", iec62056.ErrTimeout), http.StatusGatewayTimeout},
		{iec62056.ErrClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("read meter: %w", iec62056.ErrChecksum), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			_, srv := newTestServer(t, &fakeSource{readErr: tt.err})
			var body map[string]string
			require.Equal(t, tt.status, getJSON(t, srv.URL+"/read", &body))
			require.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	source := &fakeSource{}
	_, err := source.ReadOnce(context.Background(), nil)
	require.NoError(t, err)
	a, srv := newTestServer(t, source)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// latest reading right after connecting
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "C", types.MeterReadingFromJsonBytes(data).ProtocolMode)

	require.Eventually(t, func() bool { return a.clientCount() == 1 }, time.Second, time.Millisecond)
	a.broadcast(&types.MeterReading{Timestamp: "2024-03-01T13:00:00Z", ProtocolMode: "D"})
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "D", types.MeterReadingFromJsonBytes(data).ProtocolMode)

	conn.Close()
	require.Eventually(t, func() bool { return a.clientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, &fakeSource{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
