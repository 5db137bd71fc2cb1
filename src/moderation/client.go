package moderation

import (
	"bytes"
	"context"
	"encoding/json"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/utils"

	"github.com/go-resty/resty/v2"
)

// Client talks to the remote moderation service. Both operations are
// fire-and-forget from the caller's point of view: transport failures,
// non-success statuses and malformed bodies all come back as nil, never as
// an error the remediation path has to handle. No retry and no client
// timeout; an unresponsive service simply stalls that element's round.
type Client struct {
	http      *resty.Client
	textPath  string
	mediaPath string
	logger    *utils.TaggedLogger
}

// NewClient builds a client for the configured endpoints.
func NewClient(cfg *configs.ModerationConfig, logger *utils.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", "sentinel-agent/1.0")

	return &Client{
		http:      httpClient,
		textPath:  cfg.TextPath,
		mediaPath: cfg.MediaPath,
		logger:    logger.WithTag("moderation"),
	}
}

// SubmitText posts a structured-text request. Returns nil on any failure.
func (c *Client) SubmitText(ctx context.Context, req *TextRequest) *TextResult {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.textPath)
	if err != nil {
		c.logger.Debug("文本审核请求失败", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if !resp.IsSuccess() {
		c.logger.Debug("文本审核返回非成功状态", map[string]interface{}{
			"status": resp.StatusCode(),
		})
		return nil
	}

	var result TextResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		c.logger.Debug("文本审核响应解析失败", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if result.RiskLevel == "" {
		// 缺少关键字段按无结论处理
		return nil
	}
	return &result
}

// SubmitMedia posts a multipart media request with whichever payloads exist.
// Returns nil on any failure or when the request is empty.
func (c *Client) SubmitMedia(ctx context.Context, req *MediaRequest) *MediaResult {
	if req.Empty() {
		c.logger.Warn("拒绝发送空的媒体审核请求")
		return nil
	}

	r := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"user_id": req.UserID,
			"context": req.Context,
		})
	if len(req.Image) > 0 {
		r.SetFileReader("image_file", "frame.jpg", bytes.NewReader(req.Image))
	}
	if len(req.Audio) > 0 {
		// 采集管线统一转码为WAV后再提交
		r.SetFileReader("audio_file", "clip.wav", bytes.NewReader(req.Audio))
	}

	resp, err := r.Post(c.mediaPath)
	if err != nil {
		c.logger.Debug("媒体审核请求失败", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if !resp.IsSuccess() {
		c.logger.Debug("媒体审核返回非成功状态", map[string]interface{}{
			"status": resp.StatusCode(),
		})
		return nil
	}

	var result MediaResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		c.logger.Debug("媒体审核响应解析失败", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if result.AuthenticityLabel == "" {
		return nil
	}
	return &result
}
