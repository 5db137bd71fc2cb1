// Package capture implements the per-element interception paths: debounced
// text, downscaled image frames and bounded audio clips.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	_ "image/gif"
	_ "image/png"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/utils"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Rasterizer turns image resources and raw video frames into bounded JPEG
// payloads. Frames are scaled by min(1, maxDim/nativeDim) so aspect ratio is
// preserved and images are never upscaled.
type Rasterizer struct {
	maxDim     int
	quality    int
	maxBytes   int64
	httpClient *http.Client
	logger     *utils.TaggedLogger
}

// NewRasterizer builds a rasterizer from the capture config.
func NewRasterizer(cfg *configs.CaptureConfig, logger *utils.Logger) *Rasterizer {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 限制重定向次数为3次
			if len(via) >= 3 {
				return fmt.Errorf("停止重定向：超过最大重定向次数")
			}
			return nil
		},
	}
	return &Rasterizer{
		maxDim:     cfg.MaxFramePX,
		quality:    cfg.JPEGQuality,
		maxBytes:   cfg.MaxFetchBytes,
		httpClient: httpClient,
		logger:     logger.WithTag("raster"),
	}
}

// FetchAndScale downloads the image resource with pixel access enabled (the
// CORS-clone step of the image path) and returns the downscaled JPEG.
func (r *Rasterizer) FetchAndScale(ctx context.Context, url string) ([]byte, error) {
	data, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return r.Scale(data)
}

// Scale validates and decodes raw image bytes (jpeg/png/gif/webp/bmp),
// downscales to the bounded surface and re-encodes at the fixed quality.
func (r *Rasterizer) Scale(data []byte) ([]byte, error) {
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("帧数据过大: %d bytes，最大允许: %d bytes", len(data), r.maxBytes)
	}
	format, err := ValidateFrameBytes(data)
	if err != nil {
		r.logger.Warn("帧数据验证失败", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解码%s图片失败: %v", format, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale := 1.0
	if longest := maxInt(w, h); longest > r.maxDim {
		scale = float64(r.maxDim) / float64(longest)
	}
	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("JPEG编码失败: %v", err)
	}
	return buf.Bytes(), nil
}

// fetch downloads the resource, refusing oversized or non-image responses.
func (r *Rasterizer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("User-Agent", "Sentinel-Capture-Bot/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP响应错误: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isImageContentType(contentType) {
		return nil, fmt.Errorf("无效的Content-Type: %s", contentType)
	}

	if resp.ContentLength > r.maxBytes {
		return nil, fmt.Errorf("文件过大: %d bytes，最大允许: %d bytes",
			resp.ContentLength, r.maxBytes)
	}

	// 使用LimitReader限制下载大小，防止无限下载
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("下载文件失败: %v", err)
	}
	return data, nil
}

var imageContentTypes = []string{
	"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp", "image/bmp",
}

func isImageContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	for _, valid := range imageContentTypes {
		if strings.Contains(lower, valid) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
