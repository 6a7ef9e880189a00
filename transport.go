package rtsp

// transport carries RTP/RTCP of the set up substreams into their sources.
type transport interface {
	// setup binds the substream to src.
	// Returns the Transport header for the SETUP request.
	setup(sub *Substream, src *source) (string, error)
	// play starts receiving. Sources are closed when receiving stops.
	play()
	close()
}

// isRTCP reports whether a packet received on a muxed port is RTCP.
// https://datatracker.ietf.org/doc/html/rfc5761#section-4
func isRTCP(packet []byte) bool {
	return len(packet) >= 2 && packet[1] >= 192 && packet[1] <= 223
}
