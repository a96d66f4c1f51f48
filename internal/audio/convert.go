package audio

// requantize scales samples of the given bit depth to signed 16-bit.
// 8-bit WAV samples are unsigned and are re-centred first.
func requantize(data []int, bitDepth int) []int {
	switch {
	case bitDepth == OutputBitDepth || bitDepth == 0:
		return data
	case bitDepth == 8:
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = (v - 128) << 8
		}
		return out
	case bitDepth > OutputBitDepth:
		shift := uint(bitDepth - OutputBitDepth)
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = v >> shift
		}
		return out
	default:
		shift := uint(OutputBitDepth - bitDepth)
		out := make([]int, len(data))
		for i, v := range data {
			out[i] = v << shift
		}
		return out
	}
}

// remix converts an interleaved stream between channel layouts. Downmixing
// averages all channels; upmixing duplicates the mono signal.
func remix(data []int, from, to int) []int {
	if from == to {
		return data
	}
	frames := len(data) / from
	mono := data
	if from != 1 {
		mono = make([]int, frames)
		for f := 0; f < frames; f++ {
			sum := 0
			for c := 0; c < from; c++ {
				sum += data[f*from+c]
			}
			mono[f] = sum / from
		}
	}
	if to == 1 {
		return mono
	}
	out := make([]int, frames*to)
	for f, v := range mono {
		for c := 0; c < to; c++ {
			out[f*to+c] = v
		}
	}
	return out
}

// resample converts an interleaved stream between sample rates with linear
// interpolation between neighbouring frames.
func resample(data []int, channels, from, to int) []int {
	if from == to || len(data) == 0 {
		return data
	}
	inFrames := len(data) / channels
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	if outFrames == 0 {
		outFrames = 1
	}
	out := make([]int, outFrames*channels)
	ratio := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * ratio
		i0 := int(pos)
		if i0 >= inFrames {
			i0 = inFrames - 1
		}
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		frac := pos - float64(i0)
		for c := 0; c < channels; c++ {
			a := float64(data[i0*channels+c])
			b := float64(data[i1*channels+c])
			out[f*channels+c] = int(a + (b-a)*frac)
		}
	}
	return out
}

// conform converts a decoded stream to the target layout.
func conform(src decoded, sampleRate, channels int) []int {
	data := remix(src.Data, src.Channels, channels)
	return resample(data, channels, src.SampleRate, sampleRate)
}
