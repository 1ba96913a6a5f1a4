package audio

import (
	"encoding/binary"
	"fmt"
)

// Transcoder converts between 8 kHz µ-law and little-endian PCM16 at provider rates.
// InRate is the rate the provider expects for input audio, OutRate the rate it produces.
// Both must be integer multiples of 8 kHz. A Transcoder holds no state between calls.
type Transcoder struct {
	InRate  int
	OutRate int
	up      int
	down    int
}

func NewTranscoder(inRate, outRate int) (*Transcoder, error) {
	if inRate <= 0 {
		inRate = TelephonyRate
	}
	if outRate <= 0 {
		outRate = TelephonyRate
	}
	if inRate%TelephonyRate != 0 {
		return nil, fmt.Errorf("input rate %d is not a multiple of %d", inRate, TelephonyRate)
	}
	if outRate%TelephonyRate != 0 {
		return nil, fmt.Errorf("output rate %d is not a multiple of %d", outRate, TelephonyRate)
	}
	return &Transcoder{
		InRate:  inRate,
		OutRate: outRate,
		up:      inRate / TelephonyRate,
		down:    outRate / TelephonyRate,
	}, nil
}

// Encode expands telephony µ-law into PCM16 at InRate, repeating each sample.
func (t *Transcoder) Encode(ulaw []byte) []byte {
	if len(ulaw) == 0 {
		return []byte{}
	}
	out := make([]byte, 0, len(ulaw)*2*t.up)
	var buf [2]byte
	for _, b := range ulaw {
		binary.LittleEndian.PutUint16(buf[:], uint16(MulawDecode(b)))
		for i := 0; i < t.up; i++ {
			out = append(out, buf[0], buf[1])
		}
	}
	return out
}

// Decode keeps every Nth PCM16 sample of provider audio at OutRate and compresses it to µ-law.
// A trailing odd byte is ignored.
func (t *Transcoder) Decode(pcm []byte) []byte {
	samples := len(pcm) / 2
	if samples == 0 {
		return []byte{}
	}
	out := make([]byte, 0, samples/t.down+1)
	for i := 0; i < samples; i += t.down {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out = append(out, MulawEncode(s))
	}
	return out
}

// DecodeRate is Decode for audio produced at an explicit rate rather than OutRate.
func DecodeRate(pcm []byte, rate int) ([]byte, error) {
	t, err := NewTranscoder(TelephonyRate, rate)
	if err != nil {
		return nil, err
	}
	return t.Decode(pcm), nil
}
