package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameMs is the largest frame duration the Opus spec allows (120 ms).
// Decode buffers are sized for it so any conformant packet fits.
const maxOpusFrameMs = 120

// OpusDecoder decodes Opus packets into PCM. The underlying codec keeps
// inter-frame state, so one OpusDecoder serves exactly one stream and frames
// must be decoded in arrival order.
type OpusDecoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
}

// NewOpusDecoder creates an OpusDecoder for the given stream format.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:        dec,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Decode decodes a single Opus packet.
func (d *OpusDecoder) Decode(data []byte) (DecodedFrame, error) {
	frameSize := d.sampleRate * maxOpusFrameMs / 1000
	pcm, err := d.dec.Decode(data, frameSize, false)
	if err != nil {
		return DecodedFrame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return DecodedFrame{
		PCM:        pcm,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
	}, nil
}
