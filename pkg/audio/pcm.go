package audio

import (
	"encoding/binary"
	"fmt"
)

// PCMDecoder decodes raw little-endian int16 PCM frames, the default output
// format of the streaming speech service (e.g., pcm_16000). It is stateless.
type PCMDecoder struct {
	// SampleRate of the incoming stream in Hz.
	SampleRate int

	// Channels of the incoming stream.
	Channels int
}

// NewPCMDecoder creates a PCMDecoder for the given stream format.
func NewPCMDecoder(sampleRate, channels int) (*PCMDecoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	return &PCMDecoder{SampleRate: sampleRate, Channels: channels}, nil
}

// Decode reinterprets data as little-endian int16 samples.
func (d *PCMDecoder) Decode(data []byte) (DecodedFrame, error) {
	if len(data) == 0 {
		return DecodedFrame{}, fmt.Errorf("audio: empty PCM frame")
	}
	if len(data)%2 != 0 {
		return DecodedFrame{}, fmt.Errorf("audio: odd byte count %d in PCM frame", len(data))
	}

	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return DecodedFrame{
		PCM:        pcm,
		SampleRate: d.SampleRate,
		Channels:   d.Channels,
	}, nil
}
