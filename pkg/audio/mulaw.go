package audio

// G.711 µ-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635

	// SilenceByte is µ-law encoded zero.
	SilenceByte byte = 0xFF

	// TelephonyRate is the sample rate of the telephony leg.
	TelephonyRate = 8000
)

// MulawDecode expands one µ-law byte to a 16-bit linear sample.
func MulawDecode(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// MulawEncode compresses one 16-bit linear sample to µ-law.
func MulawEncode(s int16) byte {
	v := int(s)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias
	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// Silence returns n bytes of µ-law silence.
func Silence(n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = SilenceByte
	}
	return out
}

// Frames splits audio into chunks of size bytes. The last chunk may be shorter.
func Frames(audio []byte, size int) [][]byte {
	if len(audio) == 0 || size <= 0 {
		return nil
	}
	out := make([][]byte, 0, (len(audio)+size-1)/size)
	for i := 0; i < len(audio); i += size {
		end := i + size
		if end > len(audio) {
			end = len(audio)
		}
		out = append(out, audio[i:end])
	}
	return out
}
