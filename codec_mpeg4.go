package rtsp

import (
	"encoding/hex"
	"log/slog"
	"strconv"
)

// RTP Payload Format for Transport of MPEG-4 Elementary Streams
// https://datatracker.ietf.org/doc/html/rfc3640
type MPEG4Params struct {
	ClockRate      int
	Mode           string
	ProfileLevelID int
	SizeLength     int
	IndexLength    int
	Config         []byte
}

func (p *MPEG4Params) ParseFMTP(line string) {
	atoi := func(value string, dst *int) {
		if v, err := strconv.Atoi(value); err == nil {
			*dst = v
		}
	}

	eachFMTP(line, func(key, value string) {
		switch key {
		case "mode":
			p.Mode = value
		case "profile-level-id":
			atoi(value, &p.ProfileLevelID)
		case "sizelength":
			atoi(value, &p.SizeLength)
		case "indexlength":
			atoi(value, &p.IndexLength)
		case "config":
			if v, err := hex.DecodeString(value); err == nil {
				p.Config = v
			}
		}
	})
}

// ISO/IEC 14496-3 sampling frequency index
var aacSampleRates = []int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AudioConfig decodes the AudioSpecificConfig header from config.
func (p *MPEG4Params) AudioConfig() (objectType, sampleRate, channels int, ok bool) {
	if len(p.Config) < 2 {
		return 0, 0, 0, false
	}

	objectType = int(p.Config[0] >> 3)

	index := int(p.Config[0]&0x07)<<1 | int(p.Config[1]>>7)
	if index >= len(aacSampleRates) {
		return 0, 0, 0, false
	}

	channels = int(p.Config[1]>>3) & 0x0F

	return objectType, aacSampleRates[index], channels, true
}

func (p *MPEG4Params) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("mode", p.Mode),
	}

	if objectType, sampleRate, channels, ok := p.AudioConfig(); ok {
		attrs = append(attrs,
			slog.Int("object_type", objectType),
			slog.Int("sample_rate", sampleRate),
			slog.Int("channels", channels),
		)
	}

	return slog.GroupValue(attrs...)
}
