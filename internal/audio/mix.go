package audio

// MixInto adds frame into the accumulator. acc must be at least len(frame).
func MixInto(acc []int32, frame []int16) {
	for i, s := range frame {
		acc[i] += int32(s)
	}
}

// Clamp saturates an accumulator to the int16 range.
func Clamp(acc []int32) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Silence returns an empty frame.
func Silence() []int16 {
	return make([]int16, FrameSamples)
}
