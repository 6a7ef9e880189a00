package rtsp

import (
	"encoding/base64"
	"log/slog"
	"strconv"
)

// RTP Payload Format for High Efficiency Video Coding (HEVC)
// https://datatracker.ietf.org/doc/html/rfc7798
type H265Params struct {
	ClockRate int
	LevelID   int
	VPS       []byte
	SPS       []byte
	PPS       []byte
}

func (p *H265Params) ParseFMTP(line string) {
	decode := func(value string, dst *[]byte) {
		if v, err := base64.StdEncoding.DecodeString(value); err == nil {
			*dst = v
		}
	}

	eachFMTP(line, func(key, value string) {
		switch key {
		case "level-id":
			if v, err := strconv.Atoi(value); err == nil {
				p.LevelID = v
			}
		case "sprop-vps":
			decode(value, &p.VPS)
		case "sprop-sps":
			decode(value, &p.SPS)
		case "sprop-pps":
			decode(value, &p.PPS)
		}
	})
}

func (p *H265Params) LogValue() slog.Value {
	return slog.GroupValue(
		// level-id is 30 times the level number
		slog.Float64("level", float64(p.LevelID)/30),
		slog.Int("vps", len(p.VPS)),
		slog.Int("sps", len(p.SPS)),
		slog.Int("pps", len(p.PPS)),
	)
}
