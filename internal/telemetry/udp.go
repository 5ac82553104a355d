package telemetry

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// UDPSource listens for telemetry datagrams on a UDP port and decodes
// them into Samples. The wire format itself is a plain collaborator
// concern (any broadcaster emitting the five comma-separated fields this
// decoder expects satisfies the contract); what this type owns is the
// socket lifecycle and the channel plumbing shared with Feed.
type UDPSource struct {
	addr string
	log  zerolog.Logger
}

// NewUDPSource constructs a source bound to addr (e.g. ":49002").
func NewUDPSource(addr string, log zerolog.Logger) *UDPSource {
	return &UDPSource{addr: addr, log: log.With().Str("component", "telemetry.udp").Logger()}
}

// Samples implements Source: it opens the UDP socket, decodes one Sample
// per datagram, and closes the returned channel once ctx is done (or at
// once if the socket cannot be opened). Read errors are logged and
// reading continues.
func (u *UDPSource) Samples(ctx context.Context) <-chan Sample {
	out := make(chan Sample)

	conn, err := net.ListenPacket("udp", u.addr)
	if err != nil {
		u.log.Error().Err(err).Str("addr", u.addr).Msg("failed to open telemetry listener")
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer conn.Close()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		buf := make([]byte, 512)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				u.log.Warn().Err(err).Msg("telemetry read failed, continuing")
				continue
			}

			sample, err := decodeSample(buf[:n])
			if err != nil {
				u.log.Debug().Err(err).Msg("dropping malformed telemetry datagram")
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
	}()

	return out
}

// decodeSample parses one datagram as a newline-trimmed line of five
// comma-separated fields: lat,lon,track_deg,gs_kt,agl_ft. This is the
// minimal wire shape satisfying the Source contract; a richer
// broadcaster (e.g. X-Plane's own DATA dataref UDP stream) would need
// its own decoder built the same way, against this package's Sample
// shape rather than this one.
func decodeSample(datagram []byte) (Sample, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(datagram)))
	if !scanner.Scan() {
		return Sample{}, fmt.Errorf("telemetry: empty datagram")
	}
	fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
	if len(fields) != 5 {
		return Sample{}, fmt.Errorf("telemetry: expected 5 fields, got %d", len(fields))
	}

	values := make([]float64, 5)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("telemetry: field %d: %w", i, err)
		}
		values[i] = v
	}

	return Sample{
		Lat:           values[0],
		Lon:           values[1],
		TrackDeg:      values[2],
		GroundSpeedKt: values[3],
		AGLFt:         values[4],
		Time:          time.Now(),
	}, nil
}
