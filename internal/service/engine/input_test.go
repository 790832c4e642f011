package engine

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDetectSuffix(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", append([]byte("RIFF\x24\x08\x00\x00WAVE"), []byte("fmt ")...), ".wav"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x02}, ".webm"},
		{"ogg", []byte("OggS\x00\x02"), ".ogg"},
		{"mp3 id3", []byte("ID3\x04\x00"), ".mp3"},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, ".mp3"},
		{"mp4", []byte("\x00\x00\x00\x20ftypisom"), ".mp4"},
		{"unknown", []byte("not an audio container"), ".bin"},
		{"empty", nil, ".bin"},
		{"short riff", []byte("RIFF"), ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSuffix(tt.data); got != tt.want {
				t.Errorf("DetectSuffix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapPCM16_ProducesWAV(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(i/2))
	}

	out, err := WrapPCM16(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("WrapPCM16 failed: %v", err)
	}

	if !bytes.Equal(out[0:4], []byte("RIFF")) || !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatalf("output is not a RIFF/WAVE container: % x", out[0:12])
	}
	if DetectSuffix(out) != ".wav" {
		t.Errorf("wrapped buffer not detected as wav")
	}
	if !bytes.Contains(out, pcm) {
		t.Error("PCM payload not carried verbatim in the data chunk")
	}
	// RIFF chunk size field covers everything after the first 8 bytes.
	riffSize := binary.LittleEndian.Uint32(out[4:8])
	if int(riffSize) != len(out)-8 {
		t.Errorf("RIFF size field = %d, want %d", riffSize, len(out)-8)
	}
}

func TestWrapPCM16_Stereo(t *testing.T) {
	pcm := make([]byte, 1600)
	out, err := WrapPCM16(pcm, 44100, 2)
	if err != nil {
		t.Fatalf("WrapPCM16 stereo failed: %v", err)
	}
	// fmt chunk: channels at offset 22, sample rate at offset 24.
	if channels := binary.LittleEndian.Uint16(out[22:24]); channels != 2 {
		t.Errorf("header channels = %d, want 2", channels)
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 44100 {
		t.Errorf("header sample rate = %d, want 44100", rate)
	}
}

func TestWrapPCM16_RejectsOddLength(t *testing.T) {
	if _, err := WrapPCM16([]byte{0x01, 0x02, 0x03}, 16000, 1); err == nil {
		t.Error("expected error for non-16-bit-aligned payload")
	}
}

func TestWrapPCM16_RejectsInvalidFormat(t *testing.T) {
	if _, err := WrapPCM16([]byte{0x01, 0x02}, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := WrapPCM16([]byte{0x01, 0x02}, 16000, 0); err == nil {
		t.Error("expected error for zero channels")
	}
}
