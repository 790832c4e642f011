package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DetectSuffix sniffs the container format of an audio buffer and returns a
// file suffix for the transient input artifact. The engine's decoder picks
// the demuxer from the suffix, so a wrong guess falls back to probing.
func DetectSuffix(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return ".wav"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		// EBML header, WebM or Matroska
		return ".webm"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return ".ogg"
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return ".mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ".mp3"
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return ".mp4"
	default:
		return ".bin"
	}
}

// WrapPCM16 encodes little-endian 16-bit PCM samples as a standalone WAV
// file. Streaming sessions that send raw PCM get their flushed buffers
// wrapped so every flush is decodable on its own.
func WrapPCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not 16-bit aligned: %d bytes", len(pcm))
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid pcm format: rate=%d channels=%d", sampleRate, channels)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}

	var out seekableBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.data, nil
}

// seekableBuffer is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch the RIFF header on Close.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if grow := b.pos + len(p) - len(b.data); grow > 0 {
		b.data = append(b.data, make([]byte, grow)...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position: %d", abs)
	}
	b.pos = int(abs)
	return abs, nil
}
