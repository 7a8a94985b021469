package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeMono(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	wav, err := EncodePCM16(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodePCM16() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	got, sr, err := DecodePCM16(wav)
	if err != nil {
		t.Fatalf("DecodePCM16() error = %v", err)
	}
	if sr != 16000 || !bytes.Equal(got, pcm) {
		t.Fatalf("decoded = %v @ %d, want %v @ 16000", got, sr, pcm)
	}
}

func TestDecodeStereoDownmix(t *testing.T) {
	// Frame 1: L=1000, R=-1000 => 0
	// Frame 2: L=3000, R=1000  => 2000
	stereo := []byte{
		0xE8, 0x03, 0x18, 0xFC,
		0xB8, 0x0B, 0xE8, 0x03,
	}
	h := wavHeader{
		RIFF: [4]byte{'R', 'I', 'F', 'F'}, ChunkSize: uint32(36 + len(stereo)),
		WAVE: [4]byte{'W', 'A', 'V', 'E'}, Fmt: [4]byte{'f', 'm', 't', ' '},
		FmtSize: 16, AudioFormat: 1, NumChannels: 2, SampleRate: 24000,
		ByteRate: 24000 * 4, BlockAlign: 4, BitsPerSample: 16,
		Data: [4]byte{'d', 'a', 't', 'a'}, DataSize: uint32(len(stereo)),
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(stereo)

	got, sr, err := DecodePCM16(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePCM16() error = %v", err)
	}
	if sr != 24000 || len(got) != 4 {
		t.Fatalf("decoded %d bytes @ %d", len(got), sr)
	}
	s1 := int16(binary.LittleEndian.Uint16(got[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(got[2:4]))
	if s1 != 0 || s2 != 2000 {
		t.Fatalf("downmix = [%d %d], want [0 2000]", s1, s2)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := DecodePCM16([]byte("not a wav file at all")); !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("error = %v, want ErrUnsupportedWAV", err)
	}
}

func TestChunkAndDuration(t *testing.T) {
	pcm := Tone(16000, time.Second, 440)
	if got := Duration(pcm, 16000); got != time.Second {
		t.Fatalf("Duration() = %v, want 1s", got)
	}
	frames := Chunk(pcm, 16000, 300*time.Millisecond)
	if len(frames) != 4 {
		t.Fatalf("len(frames) = %d, want 4", len(frames))
	}
	if len(frames[0]) != 9600 || len(frames[3]) != 32000-3*9600 {
		t.Fatalf("frame sizes = %d..%d", len(frames[0]), len(frames[3]))
	}
}
