package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	mp3 "github.com/hajimehoshi/go-mp3"
	opus "github.com/qrtc/opus-go"
)

// OpusDecoder 封装opus解码器
type OpusDecoder struct {
	decoder   *opus.OpusDecoder
	mu        sync.Mutex
	config    *OpusDecoderConfig
	outBuffer []byte
}

// OpusDecoderConfig 解码器配置
type OpusDecoderConfig struct {
	SampleRate  int
	MaxChannels int
}

// NewOpusDecoder 创建新的opus解码器
func NewOpusDecoder(config *OpusDecoderConfig) (*OpusDecoder, error) {
	if config == nil {
		config = &OpusDecoderConfig{
			SampleRate:  24000, // 默认使用24kHz采样率
			MaxChannels: 1,     // 默认单通道
		}
	}

	libConfig := &opus.OpusDecoderConfig{
		SampleRate:  config.SampleRate,
		MaxChannels: config.MaxChannels,
	}

	decoder, err := opus.CreateOpusDecoder(libConfig)
	if err != nil {
		return nil, fmt.Errorf("创建Opus解码器失败: %v", err)
	}

	bufSize := config.SampleRate * 2 * config.MaxChannels * 120 / 1000
	if bufSize < 8192 {
		bufSize = 8192 // 至少8KB的缓冲区
	}

	return &OpusDecoder{
		decoder:   decoder,
		config:    config,
		outBuffer: make([]byte, bufSize),
	}, nil
}

// Decode 解码opus数据为PCM
func (d *OpusDecoder) Decode(opusData []byte) ([]byte, error) {
	if len(opusData) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// 使用预分配的缓冲区
	n, err := d.decoder.Decode(opusData, d.outBuffer)
	if err != nil {
		return nil, fmt.Errorf("Opus解码失败: %v", err)
	}

	// 返回解码后的PCM数据的副本
	result := make([]byte, n)
	copy(result, d.outBuffer[:n])
	return result, nil
}

// Close 关闭解码器
func (d *OpusDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.decoder != nil {
		if err := d.decoder.Close(); err != nil {
			return fmt.Errorf("关闭Opus解码器失败: %v", err)
		}
		d.decoder = nil
	}
	return nil
}

// MP3ToMonoPCM 解码MP3数据为16-bit小端序单声道PCM，返回采样率
func MP3ToMonoPCM(r io.Reader) ([]byte, int, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("创建MP3解码器失败: %v", err)
	}

	sampleRate := decoder.SampleRate()

	pcmBytes, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("读取PCM数据失败: %v", err)
	}

	// go-mp3 输出16位小端序立体声，交错排列(LRLR...)，每对样本4字节
	numMonoSamples := len(pcmBytes) / 4
	if numMonoSamples == 0 {
		return []byte{}, sampleRate, nil
	}

	mono := make([]byte, numMonoSamples*2)
	for i := 0; i < numMonoSamples; i++ {
		left := int16(uint16(pcmBytes[i*4+0]) | (uint16(pcmBytes[i*4+1]) << 8))
		right := int16(uint16(pcmBytes[i*4+2]) | (uint16(pcmBytes[i*4+3]) << 8))

		// 平均混合为单声道，int32中间值防止溢出
		sample := int16((int32(left) + int32(right)) / 2)
		mono[i*2] = byte(sample)
		mono[i*2+1] = byte(sample >> 8)
	}

	return mono, sampleRate, nil
}

// EncodeWAV 将PCM数据封装为WAV格式字节流
func EncodeWAV(pcm []byte, sampleRate int, channels int, bitsPerSample int) []byte {
	var buf bytes.Buffer

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM格式
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)

	return buf.Bytes()
}
