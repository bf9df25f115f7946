package media

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WriteWAV writes interleaved 16-bit PCM as a canonical RIFF/WAVE file.
func WriteWAV(w io.Writer, samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid wav format: rate=%d channels=%d", sampleRate, channels)
	}

	dataLen := uint32(len(samples) * 2)
	blockAlign := uint16(channels * 2)

	header := []interface{}{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataLen),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate) * uint32(blockAlign),
		blockAlign,
		uint16(16),
		[4]byte{'d', 'a', 't', 'a'},
		dataLen,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write wav header: %w", err)
		}
	}

	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path.
func WriteWAVFile(path string, samples []int16, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := WriteWAV(bw, samples, sampleRate, channels); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to flush wav: %w", err)
	}
	return f.Close()
}

// DecodeS16LE converts raw little-endian 16-bit PCM bytes to samples. A
// trailing odd byte is ignored.
func DecodeS16LE(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}
