package rtsp

import (
	"log/slog"
	"strings"
)

// CodecParams holds format parameters announced with a=fmtp.
// The log value summarizes the parameters for the substream logs.
type CodecParams interface {
	ParseFMTP(line string)
	slog.LogValuer
}

// NewCodecParams returns parameters for the codec or nil when the codec has
// no known format parameters.
func NewCodecParams(codec string, clockRate int) CodecParams {
	switch strings.ToLower(codec) {
	case "mpeg4-generic":
		return &MPEG4Params{ClockRate: clockRate}
	case "h264":
		return &H264Params{ClockRate: clockRate}
	case "h265":
		return &H265Params{ClockRate: clockRate}
	default:
		return nil
	}
}

// eachFMTP calls fn for every key=value pair of the fmtp line.
func eachFMTP(line string, fn func(key, value string)) {
	var pair string

	for line != "" {
		pair, line, _ = strings.Cut(line, ";")

		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}

		fn(strings.ToLower(key), value)
	}
}
