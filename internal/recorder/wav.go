package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Fixed capture format: clients send 16 kHz mono 16-bit PCM and the server
// relays it untouched, so every recording shares these parameters.
const (
	sampleRate    = 16000
	numChannels   = 1
	bitsPerSample = 16
	bytesPerSec   = sampleRate * numChannels * bitsPerSample / 8

	wavHeaderSize = 44
)

// wavHeader builds the 44-byte RIFF/WAVE header for a PCM payload of
// dataSize bytes.
func wavHeader(dataSize int) []byte {
	byteRate := uint32(bytesPerSec)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	h := make([]byte, 0, wavHeaderSize)
	h = append(h, 'R', 'I', 'F', 'F')
	h = binary.LittleEndian.AppendUint32(h, uint32(36+dataSize))
	h = append(h, 'W', 'A', 'V', 'E')

	h = append(h, 'f', 'm', 't', ' ')
	h = binary.LittleEndian.AppendUint32(h, 16)
	h = binary.LittleEndian.AppendUint16(h, 1) // PCM
	h = binary.LittleEndian.AppendUint16(h, numChannels)
	h = binary.LittleEndian.AppendUint32(h, sampleRate)
	h = binary.LittleEndian.AppendUint32(h, byteRate)
	h = binary.LittleEndian.AppendUint16(h, blockAlign)
	h = binary.LittleEndian.AppendUint16(h, bitsPerSample)

	h = append(h, 'd', 'a', 't', 'a')
	h = binary.LittleEndian.AppendUint32(h, uint32(dataSize))
	return h
}

// probeWAVDuration reads a WAV file's own header and returns the duration
// of its data chunk in seconds. Returns an error for non-WAV files.
func probeWAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, fmt.Errorf("read wav header: %w", err)
	}

	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	byteRate := binary.LittleEndian.Uint32(buf[28:32])
	dataSize := binary.LittleEndian.Uint32(buf[40:44])
	if byteRate == 0 {
		return 0, errors.New("zero byte rate")
	}
	return float64(dataSize) / float64(byteRate), nil
}
