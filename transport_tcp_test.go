package rtsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interleaved(channel byte, packet []byte) []byte {
	frame := make([]byte, interleavedHeaderSize, interleavedHeaderSize+len(packet))
	frame[0] = '$'
	frame[1] = channel
	binary.BigEndian.PutUint16(frame[2:], uint16(len(packet)))

	return append(frame, packet...)
}

func TestTransportTCP_setup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tr := newTransportTCP(bufio.NewReader(&bytes.Buffer{}), testLogger())

	sub := &Substream{Index: 1}
	header, err := tr.setup(sub, newSource(1, testLogger()))
	require.NoError(err)

	assert.Equal("RTP/AVP/TCP;unicast;interleaved=2-3", header)
	assert.Equal(2, sub.Channel)

	_, err = tr.setup(&Substream{Index: 200}, newSource(200, testLogger()))
	assert.Error(err)
}

func TestTransportTCP_loop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var stream bytes.Buffer
	stream.Write(interleaved(0, rtpPacket(t, 5)))
	stream.Write(interleaved(2, rtpPacket(t, 70)))
	stream.WriteString("RTSP/1.0 200 OK\r\nCSeq: 5\r\n\r\n")
	stream.Write(interleaved(0, rtpPacket(t, 6)))
	// unknown channel
	stream.Write(interleaved(8, rtpPacket(t, 1)))
	stream.Write(interleaved(1, rtcpBye(t)))

	tr := newTransportTCP(bufio.NewReader(&stream), testLogger())

	video := newSource(0, testLogger())
	audio := newSource(1, testLogger())

	_, err := tr.setup(&Substream{Index: 0}, video)
	require.NoError(err)
	_, err = tr.setup(&Substream{Index: 1}, audio)
	require.NoError(err)

	bye := 0
	video.SetByeHandler(func() { bye++ })

	// returns at the end of the stream
	tr.loop()

	assert.Equal(1, bye)

	ctx := context.Background()
	buf := make([]byte, 1500)

	n, _, err := video.ReadUnit(ctx, buf)
	require.NoError(err)
	assert.Equal(rtpPacket(t, 5), buf[:n])

	n, _, err = video.ReadUnit(ctx, buf)
	require.NoError(err)
	assert.Equal(rtpPacket(t, 6), buf[:n])

	_, _, err = video.ReadUnit(ctx, buf)
	assert.ErrorIs(err, io.EOF)

	n, _, err = audio.ReadUnit(ctx, buf)
	require.NoError(err)
	assert.Equal(rtpPacket(t, 70), buf[:n])

	_, _, err = audio.ReadUnit(ctx, buf)
	assert.ErrorIs(err, io.EOF)
}

func TestIsRTCP(t *testing.T) {
	assert := assert.New(t)

	assert.True(isRTCP(rtcpBye(t)))
	assert.False(isRTCP(rtpPacket(t, 1)))
	assert.False(isRTCP([]byte{0x80}))
}
