package interpreter

import (
	"context"
	"net/url"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	pingPeriod = 30 * time.Second
	// Polled meters may report only every few minutes, pongs keep the
	// connection alive in between.
	readTimeout = 2*pingPeriod + 10*time.Second
)

// ListenerURL returns the websocket URL of the interpreter API at host.
func ListenerURL(host string, tlsEnabled bool) url.URL {
	scheme := "ws"
	if tlsEnabled {
		scheme = "wss"
	}
	return url.URL{Scheme: scheme, Host: host, Path: "/ws"}
}

// Manage websocket connection and call funcToCall for each reading.
// Blocks until ctx is done or the connection failed maxRetries times in a row.
func StartListener(ctx context.Context, u url.URL, funcToCall func(reading *types.MeterReading)) {
	retryCount := 0

	for {
		if ctx.Err() != nil {
			logrus.Info("Shutting down listener")
			return
		}

		// Calculate retry delay with exponential backoff
		if retryCount > 0 {
			retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			logrus.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				logrus.Info("Shutdown requested during retry wait")
				return
			}
		}

		logrus.Infof("Connecting to %s", u.String())

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			logrus.WithError(err).Warn("Connection failed")
			retryCount++
			if retryCount >= maxRetries {
				logrus.Errorf("Max retries (%d) reached. Giving up.", maxRetries)
				return
			}
			continue
		}

		logrus.Info("Connected! Accepting meter readings.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, funcToCall)
		c.Close()

		if !connectionBroken {
			return
		}
		logrus.Warn("Connection lost, will retry...")
	}
}

// handleConnection returns true when the connection broke and false when
// ctx ended.
func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	funcToCall func(reading *types.MeterReading),
) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.WithError(err).Warn("WebSocket error")
				} else {
					logrus.Infof("Connection closed: %v", err)
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				logrus.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if reading := types.MeterReadingFromJsonBytes(message); reading != nil {
				funcToCall(reading)
			} else {
				logrus.Warnf("Failed to parse meter reading: %s", string(message))
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// only this goroutine writes to c
	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				logrus.WithError(err).Warn("Failed to send ping")
			}
		case <-ctx.Done():
			logrus.Info("Closing connection...")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logrus.WithError(err).Warn("Error sending close message")
			}
			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
