package rtsp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

const (
	interleavedPacketSize = 0x10000
	interleavedHeaderSize = 4
)

// transportTCP reads RTP/RTCP interleaved with RTSP on the control connection.
// https://datatracker.ietf.org/doc/html/rfc2326#section-10.12
type transportTCP struct {
	reader *bufio.Reader
	log    *slog.Logger

	// rtp channel to source, written before play
	channels  map[int]*source
	closeOnce sync.Once
}

func newTransportTCP(reader *bufio.Reader, log *slog.Logger) *transportTCP {
	return &transportTCP{
		reader:   reader,
		log:      log,
		channels: make(map[int]*source),
	}
}

func (t *transportTCP) setup(sub *Substream, src *source) (string, error) {
	rtpID := sub.Index * 2
	rtcpID := rtpID + 1

	if rtcpID > 0xFF {
		return "", fmt.Errorf("no interleaved channel for substream %d", sub.Index)
	}

	sub.Channel = rtpID
	sub.ClientPort = rtpID
	t.channels[rtpID] = src

	transport := fmt.Sprintf(
		"RTP/AVP/TCP;unicast;interleaved=%d-%d",
		rtpID,
		rtcpID,
	)

	return transport, nil
}

func (t *transportTCP) play() {
	go t.loop()
}

func (t *transportTCP) loop() {
	defer t.close()

	buf := make([]byte, interleavedPacketSize)
	header := buf[:interleavedHeaderSize]

	for {
		lead, err := t.reader.Peek(1)
		if err != nil {
			t.onError(err)
			return
		}

		if lead[0] != '$' {
			// RTSP response to a request sent while playing
			response, err := ReadResponse(t.reader)
			if err == nil {
				err = response.ReadBody(t.reader)
			}
			if err != nil {
				t.onError(fmt.Errorf("read response: %w", err))
				return
			}

			t.log.Debug("response while playing", "status", response.Status, "cseq", response.Header.Get("CSeq"))
			continue
		}

		if _, err := io.ReadFull(t.reader, header); err != nil {
			t.onError(fmt.Errorf("read interleaved header: %w", err))
			return
		}

		channel := int(header[1])
		size := int(binary.BigEndian.Uint16(header[2:4]))

		packet := buf[:size]
		if _, err := io.ReadFull(t.reader, packet); err != nil {
			t.onError(fmt.Errorf("read interleaved packet: %w", err))
			return
		}

		src := t.channels[channel&^1]
		if src == nil {
			continue
		}

		if channel&1 == 0 {
			src.pushRTP(packet)
		} else {
			src.pushRTCP(packet)
		}
	}
}

func (t *transportTCP) onError(err error) {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		t.log.Debug("interleaved transport finished", "err", err)
		return
	}

	t.log.Warn("interleaved transport failed", "err", err)
}

// close ends every substream. The connection itself is owned by the client.
func (t *transportTCP) close() {
	t.closeOnce.Do(func() {
		for _, src := range t.channels {
			src.Close()
		}
	})
}
