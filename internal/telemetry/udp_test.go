package telemetry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSampleParsesFiveFields(t *testing.T) {
	s, err := decodeSample([]byte("47.74,10.33,270,420.5,1200\n"))
	require.NoError(t, err)
	assert.Equal(t, 47.74, s.Lat)
	assert.Equal(t, 10.33, s.Lon)
	assert.Equal(t, 270.0, s.TrackDeg)
	assert.Equal(t, 420.5, s.GroundSpeedKt)
	assert.Equal(t, 1200.0, s.AGLFt)
}

func TestDecodeSampleRejectsWrongFieldCount(t *testing.T) {
	_, err := decodeSample([]byte("47.74,10.33,270\n"))
	assert.Error(t, err)
}

func TestDecodeSampleRejectsNonNumericField(t *testing.T) {
	_, err := decodeSample([]byte("not-a-number,10.33,270,420.5,1200\n"))
	assert.Error(t, err)
}

func TestUDPSourceDeliversDecodedDatagram(t *testing.T) {
	src := NewUDPSource("127.0.0.1:0", zerolog.Nop())

	conn, err := net.ListenPacket("udp", src.addr)
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	src.addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples := src.Samples(ctx)

	sender, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer sender.Close()

	require.Eventually(t, func() bool {
		_, err := sender.Write([]byte("1,2,3,4,5\n"))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case s := <-samples:
		assert.Equal(t, 1.0, s.Lat)
		assert.Equal(t, 5.0, s.AGLFt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded sample")
	}
}
