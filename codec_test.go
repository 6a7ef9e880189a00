package rtsp

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCodecParams(t *testing.T) {
	assert := assert.New(t)

	assert.IsType(&H264Params{}, NewCodecParams("H264", 90000))
	assert.IsType(&H265Params{}, NewCodecParams("h265", 90000))
	assert.IsType(&MPEG4Params{}, NewCodecParams("MPEG4-GENERIC", 48000))
	assert.Nil(NewCodecParams("PCMA", 8000))
}

func TestH265Params_ParseFMTP(t *testing.T) {
	assert := assert.New(t)

	p := &H265Params{ClockRate: 90000}
	p.ParseFMTP("level-id=93; sprop-vps=QAE=; sprop-sps=QgE=; sprop-pps=RAE=; unknown")

	assert.Equal(&H265Params{
		ClockRate: 90000,
		LevelID:   93,
		VPS:       []byte{0x40, 0x01},
		SPS:       []byte{0x42, 0x01},
		PPS:       []byte{0x44, 0x01},
	}, p)
}

func TestH264Params_ParseFMTP(t *testing.T) {
	assert := assert.New(t)

	p := &H264Params{}
	p.ParseFMTP("packetization-mode=1;profile-level-id=xyz;sprop-parameter-sets=Z0KAFNoFB+Q=")

	assert.Equal(1, p.PacketizationMode)
	assert.Nil(p.ProfileLevelID)
	assert.Nil(p.SPS, "both parameter sets are required")
}

func TestH264Params_Profile(t *testing.T) {
	assert := assert.New(t)

	p := &H264Params{}
	p.ParseFMTP("packetization-mode=1;profile-level-id=64001F")

	profile, level, ok := p.Profile()
	assert.True(ok)
	assert.Equal("High", profile)
	assert.Equal(3.1, level)

	_, _, ok = (&H264Params{}).Profile()
	assert.False(ok)
}

func TestMPEG4Params_AudioConfig(t *testing.T) {
	assert := assert.New(t)

	objectType, sampleRate, channels, ok := (&MPEG4Params{Config: []byte{0x15, 0x88}}).AudioConfig()
	assert.True(ok)
	assert.Equal(2, objectType)
	assert.Equal(8000, sampleRate)
	assert.Equal(1, channels)

	// 48000 Hz stereo
	objectType, sampleRate, channels, ok = (&MPEG4Params{Config: []byte{0x11, 0x90}}).AudioConfig()
	assert.True(ok)
	assert.Equal(2, objectType)
	assert.Equal(48000, sampleRate)
	assert.Equal(2, channels)

	_, _, _, ok = (&MPEG4Params{Config: []byte{0x12}}).AudioConfig()
	assert.False(ok)

	_, _, _, ok = (&MPEG4Params{Config: []byte{0x17, 0x88}}).AudioConfig()
	assert.False(ok, "reserved sampling frequency index")
}

func TestCodecParams_LogValue(t *testing.T) {
	tests := []struct {
		name   string
		params CodecParams
		fmtp   string
		expect string
	}{
		{
			"h264",
			&H264Params{},
			"profile-level-id=428014;sprop-parameter-sets=Z0KAFNoFB+Q=,aM4G4g==",
			"params.packetization_mode=0 params.profile=Baseline params.level=2 params.sps=8 params.pps=4",
		},
		{
			"h265",
			&H265Params{},
			"level-id=93; sprop-vps=QAE=; sprop-sps=QgE=; sprop-pps=RAE=",
			"params.level=3.1 params.vps=2 params.sps=2 params.pps=2",
		},
		{
			"mpeg4",
			&MPEG4Params{},
			"mode=AAC-hbr; config=1190",
			"params.mode=AAC-hbr params.object_type=2 params.sample_rate=48000 params.channels=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, nil))

			tt.params.ParseFMTP(tt.fmtp)
			log.Info("substream", "params", tt.params)

			assert.Contains(t, buf.String(), tt.expect)
		})
	}
}
