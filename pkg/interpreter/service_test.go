package interpreter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestListenerURL(t *testing.T) {
	u := ListenerURL("meter.local:9039", false)
	require.Equal(t, "ws://meter.local:9039/ws", u.String())
	u = ListenerURL("meter.local:9039", true)
	require.Equal(t, "wss://meter.local:9039/ws", u.String())
}

func TestStartListenerDeliversReadings(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"timestamp":"2024-03-01T12:00:00Z","protocol_mode":"D","data_sets":[{"address":"1.8.0","value":"1","unit":"kWh"}]}`))
		// keep the connection open until the client closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	readings := make(chan *types.MeterReading, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		StartListener(ctx, ListenerURL(strings.TrimPrefix(srv.URL, "http://"), false),
			func(reading *types.MeterReading) { readings <- reading })
	}()

	select {
	case reading := <-readings:
		require.Equal(t, "D", reading.ProtocolMode)
		require.Equal(t, "1.8.0", reading.DataSets[0].Address)
	case <-time.After(5 * time.Second):
		t.Fatal("no reading")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}
