package rtsp

import (
	"fmt"
	"net/url"
)

// Substream is one media stream of a session, e.g. audio or video.
type Substream struct {
	// Index is the position of the substream in the session description.
	Index       int
	Media       string
	Codec       string
	PayloadType int
	ClockRate   int
	Params      CodecParams
	Control     *url.URL
	Port        int
	Protocol    string
	RTCPMuxed   bool

	// Resolved by Conn.Initiate
	ClientPort int
	Channel    int

	source Source
	relay  *relay
}

func (s *Substream) String() string {
	return s.Media + "/" + s.Codec
}

func (s *Substream) clientPorts() string {
	if s.RTCPMuxed {
		return fmt.Sprintf("client port %d", s.ClientPort)
	}

	return fmt.Sprintf("client ports %d-%d", s.ClientPort, s.ClientPort+1)
}

// SessionDescription is a parsed DESCRIBE reply.
type SessionDescription struct {
	Text       string
	Control    *url.URL
	Substreams []*Substream

	// Normal play time range in seconds. PlayEnd is negative when open.
	PlayStart float64
	PlayEnd   float64

	// Absolute range, set when the description uses a=range:clock
	AbsStart string
	AbsEnd   string
}

// Duration returns the playback length in seconds.
// Zero means live or indeterminate.
func (d *SessionDescription) Duration() float64 {
	if d.AbsStart != "" {
		return 0
	}

	if d.PlayEnd > d.PlayStart {
		return d.PlayEnd - d.PlayStart
	}

	return 0
}

// PlayRange returns the Range header for PLAY.
func (d *SessionDescription) PlayRange() string {
	if d.AbsStart != "" {
		return "clock=" + d.AbsStart + "-" + d.AbsEnd
	}

	return "npt=0.000-"
}
