package publisher

import (
	"io"
	"net"
	"testing"

	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestHistoryKey(t *testing.T) {
	require.Equal(t, "iec62056:ISKMT174:readings",
		historyKey(&types.MeterReading{ManufacturerID: "ISK", Identification: "MT174"}))
	require.Equal(t, "iec62056:unknown:readings", historyKey(&types.MeterReading{}))
}

func TestNewRedisPublisherUnreachable(t *testing.T) {
	// grab a free port and release it so nothing listens there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	log := logrus.New()
	log.SetOutput(io.Discard)
	_, err = NewRedisPublisher(addr, "", 0, "iec62056:readings", log)
	require.Error(t, err)
}
