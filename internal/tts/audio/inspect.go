// Package audio sniffs the encoding of synthesized audio and estimates its duration.
package audio

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Format represents supported audio formats.
type Format string

// Known formats.
const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatUnknown Format = "unknown"
)

// Info is what Inspect could learn about an audio payload.
type Info struct {
	Format          Format
	ContentType     string
	DurationSeconds float64
	SampleRate      int
	Channels        int
}

// Extension returns the file extension for the format without a dot.
func (f Format) Extension() string {
	if f == FormatUnknown || f == "" {
		return "bin"
	}

	return string(f)
}

var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicOgg  = []byte("OggS")
	magicFLAC = []byte("fLaC")
)

const (
	riffHeaderSize     = 12
	chunkHeaderSize    = 8
	wavFmtMinSize      = 16
	id3HeaderSize      = 10
	mp3FrameHeaderSize = 4
	flacStreamInfoSize = 34
	flacBlockHeader    = 4
	bitsPerByte        = 8
	kilo               = 1000
)

var contentTypes = map[Format]string{
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatOGG:  "audio/ogg",
	FormatFLAC: "audio/flac",
}

// Inspect identifies data by its magic bytes, falling back to contentType,
// and estimates its duration where the format allows it.
func Inspect(data []byte, contentType string) Info {
	format := sniff(data)
	if format == FormatUnknown {
		format = FormatFromContentType(contentType)
	}

	info := Info{Format: format, ContentType: contentType}
	if known, ok := contentTypes[format]; ok {
		info.ContentType = known
	}

	switch format {
	case FormatWAV:
		inspectWAV(data, &info)
	case FormatMP3:
		inspectMP3(data, &info)
	case FormatFLAC:
		inspectFLAC(data, &info)
	case FormatOGG, FormatUnknown:
	}

	return info
}

// FormatFromContentType maps a MIME type to a Format.
func FormatFromContentType(contentType string) Format {
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")

	switch strings.TrimSpace(mediaType) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	case "audio/mpeg", "audio/mp3":
		return FormatMP3
	case "audio/ogg", "audio/opus":
		return FormatOGG
	case "audio/flac", "audio/x-flac":
		return FormatFLAC
	default:
		return FormatUnknown
	}
}

func sniff(data []byte) Format {
	switch {
	case len(data) >= riffHeaderSize && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWAVE):
		return FormatWAV
	case bytes.HasPrefix(data, magicID3), len(data) >= 2 && isMP3Sync(data[0], data[1]):
		return FormatMP3
	case bytes.HasPrefix(data, magicOgg):
		return FormatOGG
	case bytes.HasPrefix(data, magicFLAC):
		return FormatFLAC
	default:
		return FormatUnknown
	}
}

// inspectWAV walks the RIFF chunks for the fmt byte rate and the data size.
func inspectWAV(data []byte, info *Info) {
	var byteRate, dataSize uint32

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + chunkHeaderSize

		switch chunkID {
		case "fmt ":
			if chunkSize >= wavFmtMinSize && body+wavFmtMinSize <= len(data) {
				info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
				byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			}
		case "data":
			dataSize = chunkSize
			if remaining := uint32(len(data) - body); dataSize > remaining || dataSize == 0xFFFFFFFF {
				dataSize = remaining
			}
		}

		if chunkID == "data" {
			break
		}

		offset = body + int(chunkSize) + int(chunkSize%2)
	}

	if byteRate > 0 {
		info.DurationSeconds = float64(dataSize) / float64(byteRate)
	}
}

var (
	mpeg1Layer3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2Layer3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	mpegSampleRates     = map[byte][3]int{
		0b11: {44100, 48000, 32000},
		0b10: {22050, 24000, 16000},
		0b00: {11025, 12000, 8000},
	}
)

// inspectMP3 estimates duration from the first Layer III frame's bitrate.
func inspectMP3(data []byte, info *Info) {
	offset := 0
	if bytes.HasPrefix(data, magicID3) && len(data) >= id3HeaderSize {
		offset = id3HeaderSize + syncsafe(data[6:10])
	}

	for ; offset+mp3FrameHeaderSize <= len(data); offset++ {
		if !isMP3Sync(data[offset], data[offset+1]) {
			continue
		}

		version := (data[offset+1] >> 3) & 0b11
		layer := (data[offset+1] >> 1) & 0b11
		bitrateIndex := data[offset+2] >> 4
		sampleIndex := (data[offset+2] >> 2) & 0b11
		channelMode := data[offset+3] >> 6

		rates, ok := mpegSampleRates[version]
		if !ok || layer != 0b01 || sampleIndex > 2 {
			continue
		}

		bitrate := mpeg2Layer3Bitrates[bitrateIndex]
		if version == 0b11 {
			bitrate = mpeg1Layer3Bitrates[bitrateIndex]
		}

		if bitrate == 0 {
			continue
		}

		info.SampleRate = rates[sampleIndex]
		info.Channels = 2
		if channelMode == 0b11 {
			info.Channels = 1
		}

		info.DurationSeconds = float64(len(data)-offset) * bitsPerByte / float64(bitrate*kilo)

		return
	}
}

// inspectFLAC reads sample rate, channels and total samples from STREAMINFO.
func inspectFLAC(data []byte, info *Info) {
	start := len(magicFLAC) + flacBlockHeader
	if len(data) < start+flacStreamInfoSize || data[len(magicFLAC)]&0x7F != 0 {
		return
	}

	streamInfo := data[start : start+flacStreamInfoSize]
	packed := binary.BigEndian.Uint64(streamInfo[10:18])

	sampleRate := packed >> 44
	channels := (packed>>41)&0b111 + 1
	totalSamples := packed & 0xFFFFFFFFF

	info.SampleRate = int(sampleRate)
	info.Channels = int(channels)

	if sampleRate > 0 {
		info.DurationSeconds = float64(totalSamples) / float64(sampleRate)
	}
}

func isMP3Sync(first, second byte) bool {
	return first == 0xFF && second&0xE0 == 0xE0
}

func syncsafe(raw []byte) int {
	return int(raw[0]&0x7F)<<21 | int(raw[1]&0x7F)<<14 | int(raw[2]&0x7F)<<7 | int(raw[3]&0x7F)
}
