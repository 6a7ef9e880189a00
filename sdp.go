package rtsp

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// SDP: Session Description Protocol
// https://datatracker.ietf.org/doc/html/rfc4566
const SdpMimeType = "application/sdp"

type staticFormat struct {
	codec     string
	clockRate int
}

// RTP/AVP static payload types
// https://datatracker.ietf.org/doc/html/rfc3551#section-6
var staticFormats = map[int]staticFormat{
	0:  {"PCMU", 8000},
	3:  {"GSM", 8000},
	4:  {"G723", 8000},
	8:  {"PCMA", 8000},
	9:  {"G722", 8000},
	10: {"L16", 44100},
	11: {"L16", 44100},
	14: {"MPA", 90000},
	26: {"JPEG", 90000},
	31: {"H261", 90000},
	32: {"MPV", 90000},
	33: {"MP2T", 90000},
	34: {"H263", 90000},
}

// resolveControl returns the URL for the a=control value.
// Relative values are appended to the base as a path segment.
func resolveControl(base *url.URL, value string) *url.URL {
	value = strings.TrimSpace(value)
	if value == "" || value == "*" {
		return base
	}

	u, err := url.Parse(value)
	if err != nil {
		return base
	}

	if u.IsAbs() || base == nil {
		return u
	}

	s := base.String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}

	if u, err = url.Parse(s + value); err != nil {
		return base
	}

	return u
}

type playRange struct {
	start, end       float64
	absStart, absEnd string
}

// parseRange parses a=range values:
//   - npt=0-10.5, npt=now-, npt=0.000-
//   - clock=19961108T142300Z-19961108T143520Z
func parseRange(value string) (r playRange, ok bool) {
	kind, bounds, ok := strings.Cut(strings.TrimSpace(value), "=")
	if !ok {
		return r, false
	}

	start, end, ok := strings.Cut(strings.TrimSpace(bounds), "-")
	if !ok {
		return r, false
	}

	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	r.end = -1

	switch strings.TrimSpace(kind) {
	case "npt":
		if start != "now" && start != "" {
			v, err := strconv.ParseFloat(start, 64)
			if err != nil {
				return r, false
			}
			r.start = v
		}

		if end != "" {
			v, err := strconv.ParseFloat(end, 64)
			if err != nil {
				return r, false
			}
			r.end = v
		}

		return r, true

	case "clock":
		if start == "" {
			return r, false
		}

		r.absStart = start
		r.absEnd = end

		return r, true
	}

	return r, false
}

func (d *SessionDescription) applyRange(value string) {
	r, ok := parseRange(value)
	if !ok {
		return
	}

	if r.absStart != "" {
		d.AbsStart = r.absStart
		d.AbsEnd = r.absEnd
		return
	}

	d.PlayStart = r.start
	if r.end > d.PlayEnd {
		d.PlayEnd = r.end
	}
}

func (s *Substream) parseRtpmap(value string) {
	// 97 H264/90000
	pt, rtpmap, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || pt != strconv.Itoa(s.PayloadType) {
		return
	}

	params := strings.Split(strings.TrimSpace(rtpmap), "/")
	if len(params) < 2 {
		return
	}

	clockRate, err := strconv.Atoi(params[1])
	if err != nil {
		return
	}

	s.Codec = strings.ToUpper(params[0])
	s.ClockRate = clockRate
}

func parseMedia(control *url.URL, md *psdp.MediaDescription) *Substream {
	// m=video 5006 RTP/AVP 97
	if len(md.MediaName.Formats) == 0 {
		return nil
	}

	pt, err := strconv.Atoi(md.MediaName.Formats[0])
	if err != nil {
		pt = -1
	}

	sub := &Substream{
		Media:       md.MediaName.Media,
		Port:        md.MediaName.Port.Value,
		Protocol:    strings.Join(md.MediaName.Protos, "/"),
		PayloadType: pt,
		Control:     control,
	}

	if f, ok := staticFormats[pt]; ok {
		sub.Codec = f.codec
		sub.ClockRate = f.clockRate
	}

	var fmtp string

	for _, a := range md.Attributes {
		switch a.Key {
		case "rtpmap":
			sub.parseRtpmap(a.Value)

		case "fmtp":
			if p, v, ok := strings.Cut(a.Value, " "); ok && p == md.MediaName.Formats[0] {
				fmtp = v
			}

		case "control":
			sub.Control = resolveControl(control, a.Value)

		case "rtcp-mux":
			sub.RTCPMuxed = true
		}
	}

	if sub.Codec == "" {
		sub.Codec = "UNKNOWN"
	}

	sub.Params = NewCodecParams(sub.Codec, sub.ClockRate)
	if sub.Params != nil && fmtp != "" {
		sub.Params.ParseFMTP(fmtp)
	}

	return sub
}

// line order of the session and media sections
// https://datatracker.ietf.org/doc/html/rfc4566#section-5
var (
	sessionLineRank = map[byte]int{
		'v': 0, 'o': 1, 's': 2, 'i': 3, 'u': 4, 'e': 5, 'p': 6, 'c': 7, 'b': 8,
		't': 9, 'r': 9, 'z': 10, 'k': 11, 'a': 12,
	}
	mediaLineRank = map[byte]int{
		'm': 0, 'i': 1, 'c': 2, 'b': 3, 'k': 4, 'a': 5,
	}
)

func sortLines(lines []string, rank map[byte]int) {
	sort.SliceStable(lines, func(i, j int) bool {
		return rank[lines[i][0]] < rank[lines[j][0]]
	})
}

// normalizeSDP rewrites the description into the form accepted by the strict
// parser. Servers often omit the o=, s= and t= lines, end the body without
// CRLF, or put lines out of order.
func normalizeSDP(data []byte) []byte {
	var (
		session []string
		media   [][]string
		seen    = map[byte]bool{}
	)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}

		key := line[0]

		switch {
		case key == 'm':
			media = append(media, []string{line})

		case len(media) != 0:
			if _, ok := mediaLineRank[key]; ok {
				media[len(media)-1] = append(media[len(media)-1], line)
			}

		default:
			if _, ok := sessionLineRank[key]; !ok {
				continue
			}

			// single line types
			if key == 'v' || key == 'o' || key == 's' {
				if seen[key] {
					continue
				}
			}

			seen[key] = true
			session = append(session, line)
		}
	}

	if !seen['v'] {
		session = append(session, "v=0")
	}
	if !seen['o'] {
		session = append(session, "o=- 0 0 IN IP4 0.0.0.0")
	}
	if !seen['s'] {
		session = append(session, "s=-")
	}
	if !seen['t'] {
		session = append(session, "t=0 0")
	}

	sortLines(session, sessionLineRank)

	var b strings.Builder

	for _, line := range session {
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	for _, section := range media {
		sortLines(section, mediaLineRank)

		for _, line := range section {
			b.WriteString(line)
			b.WriteString("\r\n")
		}
	}

	return []byte(b.String())
}

// ParseSessionDescription parses the DESCRIBE reply body.
// base is the request URL or the Content-Base of the reply.
func ParseSessionDescription(base *url.URL, data []byte) (*SessionDescription, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty")
	}

	var sd psdp.SessionDescription
	if err := sd.Unmarshal(normalizeSDP(data)); err != nil {
		return nil, err
	}

	desc := &SessionDescription{
		Text:    string(data),
		Control: base,
		PlayEnd: -1,
	}

	if v, ok := sd.Attribute("control"); ok {
		desc.Control = resolveControl(base, v)
	}

	if v, ok := sd.Attribute("range"); ok {
		desc.applyRange(v)
	}

	for _, md := range sd.MediaDescriptions {
		sub := parseMedia(desc.Control, md)
		if sub == nil {
			continue
		}

		if v, ok := md.Attribute("range"); ok && desc.AbsStart == "" {
			desc.applyRange(v)
		}

		sub.Index = len(desc.Substreams)
		desc.Substreams = append(desc.Substreams, sub)
	}

	return desc, nil
}
