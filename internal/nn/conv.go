package nn

import (
	"errors"
	"fmt"

	"github.com/murmurtts/murmur/internal/mat"
)

// Conv1D performs a 1-D convolution.
//
//	input:  [batch, inCh, length]
//	kernel: [outCh, inCh/groups, kSize]
func Conv1D(input, kernel, bias *mat.Tensor, stride, padding, groups int) (*mat.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("nn: conv1d requires non-nil input/kernel")
	}

	if stride <= 0 || groups <= 0 {
		return nil, errors.New("nn: conv1d stride/groups must be > 0")
	}

	if input.Rank() != 3 || kernel.Rank() != 3 {
		return nil, fmt.Errorf("nn: conv1d expects input/kernel rank 3, got %v and %v", input.Shape(), kernel.Shape())
	}

	batch := input.Dim(0)
	inCh := input.Dim(1)
	length := input.Dim(2)
	outCh := kernel.Dim(0)
	kInCh := kernel.Dim(1)
	kSize := kernel.Dim(2)

	if inCh%groups != 0 || outCh%groups != 0 {
		return nil, fmt.Errorf("nn: conv1d channels not divisible by groups (%d, %d, groups=%d)", inCh, outCh, groups)
	}

	if kInCh != inCh/groups {
		return nil, fmt.Errorf("nn: conv1d kernel in_channels/groups mismatch: got %d want %d", kInCh, inCh/groups)
	}

	if bias != nil && (bias.Rank() != 1 || bias.Dim(0) != outCh) {
		return nil, fmt.Errorf("nn: conv1d bias shape %v does not match out_channels %d", bias.Shape(), outCh)
	}

	outLen := (length+2*padding-kSize)/stride + 1
	if outLen <= 0 {
		return nil, fmt.Errorf("nn: conv1d produced non-positive output length %d", outLen)
	}

	inPerGroup := inCh / groups
	outPerGroup := outCh / groups

	inData := input.RawData()
	kData := kernel.RawData()
	outData := make([]float32, batch*outCh*outLen)

	var biasData []float32
	if bias != nil {
		biasData = bias.RawData()
	}

	for b := range batch {
		for oc := range outCh {
			g := oc / outPerGroup
			icBase := g * inPerGroup
			outRow := outData[(b*outCh+oc)*outLen : (b*outCh+oc+1)*outLen]

			for ox := range outLen {
				sum := float32(0)
				if biasData != nil {
					sum = biasData[oc]
				}

				start := ox*stride - padding
				for ic := range inPerGroup {
					inRow := inData[(b*inCh+icBase+ic)*length : (b*inCh+icBase+ic+1)*length]
					kRow := kData[(oc*kInCh+ic)*kSize : (oc*kInCh+ic+1)*kSize]

					for kx := range kSize {
						pos := start + kx
						if pos >= 0 && pos < length {
							sum += inRow[pos] * kRow[kx]
						}
					}
				}

				outRow[ox] = sum
			}
		}
	}

	return mat.New(outData, batch, outCh, outLen)
}

// Conv1DCausal is Conv1D with left-only padding of max(kSize-stride, 0),
// the streaming form used by the waveform decoder: the output at position t
// never observes input beyond t.
func Conv1DCausal(input, kernel, bias *mat.Tensor, stride, groups int) (*mat.Tensor, error) {
	if kernel == nil || kernel.Rank() != 3 {
		return nil, errors.New("nn: causal conv1d requires rank-3 kernel")
	}

	kSize := kernel.Dim(2)
	leftPad := max(kSize-stride, 0)

	if leftPad == 0 {
		return Conv1D(input, kernel, bias, stride, 0, groups)
	}

	if input == nil || input.Rank() != 3 {
		return nil, errors.New("nn: causal conv1d requires rank-3 input")
	}

	padded, err := padLeft(input, leftPad)
	if err != nil {
		return nil, err
	}

	return Conv1D(padded, kernel, bias, stride, 0, groups)
}

// ConvTranspose1D performs a 1-D transposed convolution.
//
//	input:  [batch, inCh, length]
//	kernel: [inCh, outCh/groups, kSize]
func ConvTranspose1D(input, kernel, bias *mat.Tensor, stride, groups int) (*mat.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("nn: convtranspose1d requires non-nil input/kernel")
	}

	if stride <= 0 || groups <= 0 {
		return nil, errors.New("nn: convtranspose1d stride/groups must be > 0")
	}

	if input.Rank() != 3 || kernel.Rank() != 3 {
		return nil, fmt.Errorf("nn: convtranspose1d expects input/kernel rank 3, got %v and %v", input.Shape(), kernel.Shape())
	}

	batch := input.Dim(0)
	inCh := input.Dim(1)
	length := input.Dim(2)
	outPerGroup := kernel.Dim(1)
	kSize := kernel.Dim(2)

	if kernel.Dim(0) != inCh {
		return nil, fmt.Errorf("nn: convtranspose1d kernel in_channels mismatch %d vs %d", kernel.Dim(0), inCh)
	}

	if inCh%groups != 0 {
		return nil, fmt.Errorf("nn: convtranspose1d in_channels %d must be divisible by groups %d", inCh, groups)
	}

	outCh := outPerGroup * groups
	inPerGroup := inCh / groups

	if bias != nil && (bias.Rank() != 1 || bias.Dim(0) != outCh) {
		return nil, fmt.Errorf("nn: convtranspose1d bias shape %v does not match out_channels %d", bias.Shape(), outCh)
	}

	outLen := (length-1)*stride + kSize
	if outLen <= 0 {
		return nil, fmt.Errorf("nn: convtranspose1d produced non-positive output length %d", outLen)
	}

	inData := input.RawData()
	kData := kernel.RawData()
	outData := make([]float32, batch*outCh*outLen)

	for b := range batch {
		for ic := range inCh {
			g := ic / inPerGroup
			ocBase := g * outPerGroup
			inRow := inData[(b*inCh+ic)*length : (b*inCh+ic+1)*length]

			for ix, inVal := range inRow {
				if inVal == 0 {
					continue
				}

				outStart := ix * stride
				for ocg := range outPerGroup {
					kRow := kData[(ic*outPerGroup+ocg)*kSize : (ic*outPerGroup+ocg+1)*kSize]
					outRow := outData[(b*outCh+ocBase+ocg)*outLen : (b*outCh+ocBase+ocg+1)*outLen]

					for kx := range kSize {
						outRow[outStart+kx] += inVal * kRow[kx]
					}
				}
			}
		}
	}

	if bias != nil {
		biasData := bias.RawData()
		for b := range batch {
			for oc := range outCh {
				outRow := outData[(b*outCh+oc)*outLen : (b*outCh+oc+1)*outLen]

				bv := biasData[oc]
				for i := range outRow {
					outRow[i] += bv
				}
			}
		}
	}

	return mat.New(outData, batch, outCh, outLen)
}

// ConvTranspose1DTrimmed is ConvTranspose1D with the trailing kSize-stride
// samples removed, the streaming form used by the decoder's upsampling stages
// so the tail never depends on future input frames.
func ConvTranspose1DTrimmed(input, kernel, bias *mat.Tensor, stride, groups int) (*mat.Tensor, error) {
	out, err := ConvTranspose1D(input, kernel, bias, stride, groups)
	if err != nil {
		return nil, err
	}

	if kernel.Rank() != 3 {
		return nil, errors.New("nn: trimmed convtranspose1d requires rank-3 kernel")
	}

	trim := kernel.Dim(2) - stride
	if trim <= 0 {
		return out, nil
	}

	outLen := out.Dim(2)
	if trim >= outLen {
		return nil, fmt.Errorf("nn: convtranspose1d trim %d exceeds output length %d", trim, outLen)
	}

	return out.Narrow(2, 0, outLen-trim)
}

func padLeft(x *mat.Tensor, pad int) (*mat.Tensor, error) {
	batch := x.Dim(0)
	ch := x.Dim(1)
	length := x.Dim(2)

	outData := make([]float32, batch*ch*(length+pad))
	src := x.RawData()

	for row := range batch * ch {
		copy(outData[row*(length+pad)+pad:(row+1)*(length+pad)], src[row*length:(row+1)*length])
	}

	return mat.New(outData, batch, ch, length+pad)
}
