package audio

import (
	"encoding/binary"
	"io"
	"math"
)

// WriteStreamHeader writes a 44-byte WAV header for streaming output where
// the total data length is not known in advance. Both the RIFF chunk size
// and the data sub-chunk size are set to 0xFFFFFFFF, the conventional
// marker for unknown length.
//
// Format: 24 kHz, mono, 16-bit PCM.
func WriteStreamHeader(w io.Writer) (int, error) {
	const (
		byteRate   = SampleRate * Channels * BitDepth / 8
		blockAlign = Channels * BitDepth / 8
	)

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], Channels)
	binary.LittleEndian.PutUint32(hdr[24:28], SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], BitDepth)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0xFFFFFFFF)

	return w.Write(hdr[:])
}

// WritePCM16 encodes float32 samples as little-endian 16-bit signed
// integers and writes them to w. Samples are clamped to [-1, 1].
func WritePCM16(w io.Writer, samples []float32) (int, error) {
	buf := make([]byte, len(samples)*2)

	for i, s := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(s)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(clamped*32767)))
	}

	return w.Write(buf)
}
