package capture

import (
	"bytes"
	"fmt"
	"image"
	"strings"
)

// 图片格式魔数签名
var frameSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需要进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
}

// 可执行文件头，页面资源绝不应该以这些开头
var executablePrefixes = [][]byte{
	{0x4D, 0x5A},             // PE文件头 (MZ)
	{0x7F, 0x45, 0x4C, 0x46}, // ELF文件头
}

// 解码后的最大像素数，防止解压炸弹
const maxFramePixels = 64 << 20

// SniffFrameFormat 通过文件头识别帧数据的实际格式。
// 返回格式名；无法识别时返回错误。
func SniffFrameFormat(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("空的图片数据")
	}
	for _, prefix := range executablePrefixes {
		if bytes.HasPrefix(data, prefix) {
			return "", fmt.Errorf("检测到可执行文件签名")
		}
	}
	for format, signature := range frameSignatures {
		if !bytes.HasPrefix(data, signature) {
			continue
		}
		if format == "webp" {
			if len(data) < 12 || !bytes.Equal(data[8:12], []byte("WEBP")) {
				continue
			}
		}
		return format, nil
	}
	if strings.Contains(strings.ToLower(string(data[:minInt(len(data), 256)])), "<svg") {
		return "", fmt.Errorf("不支持SVG资源")
	}
	return "", fmt.Errorf("无法识别的图片格式")
}

// ValidateFrameBytes 在解码前验证帧数据：文件头签名、尺寸元信息和像素上限。
func ValidateFrameBytes(data []byte) (string, error) {
	format, err := SniffFrameFormat(data)
	if err != nil {
		return "", err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("读取图片元信息失败: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("图片尺寸无效: %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxFramePixels {
		return "", fmt.Errorf("图片像素数超限: %dx%d", cfg.Width, cfg.Height)
	}
	return format, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
