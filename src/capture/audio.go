package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"sentinel-agent-go/src/core/utils"
)

// MediaHost is the session-side boundary the pipeline captures through: it
// requests video frames and bounded audio clips from the page host over the
// feed connection.
type MediaHost interface {
	// CaptureFrame asks the page host for one raw frame of the playing
	// video element.
	CaptureFrame(ctx context.Context, elementID string) ([]byte, error)
	// CaptureAudio records from the element's media stream for at most
	// maxDur, force-stopping at the deadline. Returns the clip bytes and
	// their MIME type; an error means no audio could be captured at all.
	CaptureAudio(ctx context.Context, elementID string, maxDur time.Duration) ([]byte, string, error)
	// HasAudioTrack reports whether the element exposes a capturable
	// audio track. When false the pipeline skips audio entirely.
	HasAudioTrack(elementID string) bool
}

// Opus clip wire format: length-prefixed packets, two bytes big-endian per
// packet, as produced by the page host's recorder.
const opusClipSampleRate = 24000

// TranscodeClip converts a recorded clip into the WAV payload the media
// endpoint expects. Opus packet streams are decoded packet by packet;
// mp3 clips are decoded and downmixed; wav passes through.
func TranscodeClip(data []byte, mime string) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("空的音频片段")
	}
	switch mime {
	case "audio/opus":
		return opusClipToWAV(data)
	case "audio/mpeg", "audio/mp3":
		pcm, rate, err := utils.MP3ToMonoPCM(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if len(pcm) == 0 {
			return nil, fmt.Errorf("MP3片段中没有音频数据")
		}
		return utils.EncodeWAV(pcm, rate, 1, 16), nil
	case "audio/wav", "audio/x-wav":
		return data, nil
	default:
		return nil, fmt.Errorf("不支持的音频类型: %s", mime)
	}
}

func opusClipToWAV(data []byte) ([]byte, error) {
	decoder, err := utils.NewOpusDecoder(&utils.OpusDecoderConfig{
		SampleRate:  opusClipSampleRate,
		MaxChannels: 1,
	})
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var pcm bytes.Buffer
	for len(data) >= 2 {
		n := int(binary.BigEndian.Uint16(data[:2]))
		data = data[2:]
		if n == 0 || n > len(data) {
			break
		}
		chunk, err := decoder.Decode(data[:n])
		if err != nil {
			return nil, err
		}
		pcm.Write(chunk)
		data = data[n:]
	}
	if pcm.Len() == 0 {
		return nil, fmt.Errorf("Opus片段解码后为空")
	}
	return utils.EncodeWAV(pcm.Bytes(), opusClipSampleRate, 1, 16), nil
}
