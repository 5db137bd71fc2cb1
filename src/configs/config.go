package configs

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置结构
type Config struct {
	Server struct {
		IP   string `yaml:"ip"`
		Port int    `yaml:"port"`
		Auth struct {
			Enabled bool   `yaml:"enabled"`
			Token   string `yaml:"token"`
		} `yaml:"auth"`
	} `yaml:"server"`

	Log struct {
		LogFormat string `yaml:"log_format"`
		LogLevel  string `yaml:"log_level"`
		LogDir    string `yaml:"log_dir"`
		LogFile   string `yaml:"log_file"`
	} `yaml:"log"`

	Web struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"web"`

	Moderation ModerationConfig `yaml:"moderation"`
	Capture    CaptureConfig    `yaml:"capture"`

	// DashboardURL 仪表盘地址，open_dashboard 指令下发给页面端
	DashboardURL string `yaml:"dashboard_url"`
}

// ModerationConfig 远程审核服务配置
type ModerationConfig struct {
	BaseURL   string `yaml:"base_url"`
	TextPath  string `yaml:"text_path"`
	MediaPath string `yaml:"media_path"`
	Platform  string `yaml:"platform"`
}

// CaptureConfig 采集管线参数
type CaptureConfig struct {
	DebounceMS    int   `yaml:"debounce_ms"`     // 文本输入静默窗口
	MinTextLen    int   `yaml:"min_text_len"`    // 低于该长度的文本不提交
	MinImagePX    int   `yaml:"min_image_px"`    // 小于该渲染尺寸的图片忽略
	MaxFramePX    int   `yaml:"max_frame_px"`    // 光栅化最大边长
	JPEGQuality   int   `yaml:"jpeg_quality"`    // 压缩质量 1-100
	SettleMS      int   `yaml:"settle_ms"`       // 视频播放后的稳定等待
	AudioClipMS   int   `yaml:"audio_clip_ms"`   // 音频片段录制上限
	SweepDelayMS  int   `yaml:"sweep_delay_ms"`  // 启动后全量扫描延迟
	MaxFetchBytes int64 `yaml:"max_fetch_bytes"` // 图片下载大小上限
}

// Debounce 文本输入静默窗口
func (c *CaptureConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Settle 视频播放后的稳定等待
func (c *CaptureConfig) Settle() time.Duration {
	return time.Duration(c.SettleMS) * time.Millisecond
}

// AudioClip 音频片段录制上限
func (c *CaptureConfig) AudioClip() time.Duration {
	return time.Duration(c.AudioClipMS) * time.Millisecond
}

// SweepDelay 启动后全量扫描延迟
func (c *CaptureConfig) SweepDelay() time.Duration {
	return time.Duration(c.SweepDelayMS) * time.Millisecond
}

// LoadConfig 从文件加载配置
func LoadConfig() (*Config, string, error) {
	path := ".config.yaml"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, path, err
	}
	config.ApplyDefaults()

	return config, path, nil
}

// ApplyDefaults 填充未设置的采集参数
func (c *Config) ApplyDefaults() {
	cap := &c.Capture
	if cap.DebounceMS <= 0 {
		cap.DebounceMS = 1000
	}
	if cap.MinTextLen <= 0 {
		cap.MinTextLen = 3
	}
	if cap.MinImagePX <= 0 {
		cap.MinImagePX = 50
	}
	if cap.MaxFramePX <= 0 {
		cap.MaxFramePX = 480
	}
	if cap.JPEGQuality <= 0 || cap.JPEGQuality > 100 {
		cap.JPEGQuality = 80
	}
	if cap.SettleMS <= 0 {
		cap.SettleMS = 1500
	}
	if cap.AudioClipMS <= 0 {
		cap.AudioClipMS = 1500
	}
	if cap.SweepDelayMS <= 0 {
		cap.SweepDelayMS = 500
	}
	if cap.MaxFetchBytes <= 0 {
		cap.MaxFetchBytes = 5 * 1024 * 1024
	}
	if c.Moderation.TextPath == "" {
		c.Moderation.TextPath = "/moderate"
	}
	if c.Moderation.MediaPath == "" {
		c.Moderation.MediaPath = "/moderate/media"
	}
	if c.Moderation.Platform == "" {
		c.Moderation.Platform = "web"
	}
}
