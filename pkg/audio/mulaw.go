package audio

// G.711 mu-law codec, used for RTP payload type 0 (PCMU).

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// LinearToMulaw encodes one 16-bit PCM sample as a mu-law byte.
func LinearToMulaw(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

// MulawToLinear decodes one mu-law byte back to a 16-bit PCM sample.
func MulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	s := (int32(mantissa)<<3 + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// EncodeMulaw encodes a PCM buffer to mu-law bytes.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToMulaw(s)
	}
	return out
}

// DecodeMulaw decodes a mu-law buffer to PCM samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = MulawToLinear(b)
	}
	return out
}
