package rtsp

import (
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
)

// RTP Payload Format for H.264 Video
// https://datatracker.ietf.org/doc/html/rfc6184
type H264Params struct {
	ClockRate         int
	PacketizationMode int
	ProfileLevelID    []byte
	SPS               []byte
	PPS               []byte
}

func (p *H264Params) ParseFMTP(line string) {
	eachFMTP(line, func(key, value string) {
		switch key {
		case "packetization-mode":
			if v, err := strconv.Atoi(value); err == nil {
				p.PacketizationMode = v
			}

		case "profile-level-id":
			if v, err := hex.DecodeString(value); err == nil && len(v) == 3 {
				p.ProfileLevelID = v
			}

		case "sprop-parameter-sets":
			sps, pps, ok := strings.Cut(value, ",")
			if !ok {
				return
			}

			if v, err := base64.StdEncoding.DecodeString(sps); err == nil {
				p.SPS = v
			}

			if v, err := base64.StdEncoding.DecodeString(pps); err == nil {
				p.PPS = v
			}
		}
	})
}

var h264Profiles = map[byte]string{
	66:  "Baseline",
	77:  "Main",
	88:  "Extended",
	100: "High",
	110: "High 10",
	122: "High 4:2:2",
	244: "High 4:4:4",
}

// Profile returns the profile name and the level from profile-level-id.
func (p *H264Params) Profile() (profile string, level float64, ok bool) {
	if len(p.ProfileLevelID) != 3 {
		return "", 0, false
	}

	profile, ok = h264Profiles[p.ProfileLevelID[0]]
	if !ok {
		profile = strconv.Itoa(int(p.ProfileLevelID[0]))
	}

	return profile, float64(p.ProfileLevelID[2]) / 10, true
}

func (p *H264Params) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("packetization_mode", p.PacketizationMode),
	}

	if profile, level, ok := p.Profile(); ok {
		attrs = append(attrs, slog.String("profile", profile), slog.Float64("level", level))
	}

	attrs = append(attrs, slog.Int("sps", len(p.SPS)), slog.Int("pps", len(p.PPS)))

	return slog.GroupValue(attrs...)
}
