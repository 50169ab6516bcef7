package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/iec62056"
	"github.com/NotCoffee418/iec62056_meter/pkg/monitor"
	"github.com/NotCoffee418/iec62056_meter/pkg/port_reader"
	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 16
	readTimeout    = 2 * time.Minute
)

type meterSource interface {
	GetLatestReading() *types.MeterReading
	ReadOnce(ctx context.Context, addresses []string) (*types.MeterReading, error)
}

// wsClient owns the only writer of its connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type api struct {
	reader    meterSource
	addresses []string
	metrics   *monitor.Metrics

	upgrader       websocket.Upgrader
	wsClients      map[*wsClient]bool
	wsClientsMutex sync.RWMutex
}

func newAPI(reader meterSource, addresses []string, metrics *monitor.Metrics) *api {
	return &api{
		reader:    reader,
		addresses: addresses,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		wsClients: make(map[*wsClient]bool),
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleIndex)
	mux.HandleFunc("/latest", a.handleLatest)
	mux.HandleFunc("/read", a.handleRead)
	mux.HandleFunc("/ws", a.handleWebSocket)
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func (a *api) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "IEC 62056-21 Meter API",
		"status":  "running",
	})
}

func (a *api) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading := a.reader.GetLatestReading()
	if reading == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No readings available yet"})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleRead reads the meter now. ?address= may be repeated to override
// the configured addresses.
func (a *api) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Use GET or POST"})
		return
	}
	addresses := r.URL.Query()["address"]
	if len(addresses) == 0 {
		addresses = a.addresses
	}

	ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
	defer cancel()
	reading, err := a.reader.ReadOnce(ctx, addresses)
	if err != nil {
		writeJSON(w, readErrorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	a.broadcast(reading)
	writeJSON(w, http.StatusOK, reading)
}

func readErrorStatus(err error) int {
	switch {
	case errors.Is(err, port_reader.ErrListening):
		return http.StatusConflict
	case errors.Is(err, iec62056.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, port_reader.ErrStopped), errors.Is(err, iec62056.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (a *api) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade error")
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	a.addWebSocketClient(client)
	go a.writePump(client)

	// Send current reading immediately if available
	if reading := a.reader.GetLatestReading(); reading != nil {
		if data, err := reading.ToJsonBytes(); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}

	// Keep connection alive, control frames are handled while reading
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			a.removeWebSocketClient(client)
			return
		}
	}
}

func (a *api) writePump(client *wsClient) {
	for data := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logrus.WithError(err).Debug("Dropping websocket client")
			client.conn.Close()
			// drain until removeWebSocketClient closes send
			for range client.send {
			}
			return
		}
	}
	client.conn.Close()
}

func (a *api) broadcast(reading *types.MeterReading) {
	data, err := reading.ToJsonBytes()
	if err != nil {
		logrus.WithError(err).Error("Failed to encode reading")
		return
	}

	a.wsClientsMutex.RLock()
	defer a.wsClientsMutex.RUnlock()
	for client := range a.wsClients {
		select {
		case client.send <- data:
		default:
			logrus.Warn("Websocket client too slow, skipping reading")
		}
	}
}

func (a *api) addWebSocketClient(client *wsClient) {
	a.wsClientsMutex.Lock()
	a.wsClients[client] = true
	a.wsClientsMutex.Unlock()
}

func (a *api) removeWebSocketClient(client *wsClient) {
	a.wsClientsMutex.Lock()
	defer a.wsClientsMutex.Unlock()
	if a.wsClients[client] {
		delete(a.wsClients, client)
		close(client.send)
	}
}

func (a *api) clientCount() int {
	a.wsClientsMutex.RLock()
	defer a.wsClientsMutex.RUnlock()
	return len(a.wsClients)
}
