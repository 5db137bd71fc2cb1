package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/utils"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建测试日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testCaptureConfig() *configs.CaptureConfig {
	cfg := &configs.Config{}
	cfg.ApplyDefaults()
	return &cfg.Capture
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestScaleBoundsLongestSide(t *testing.T) {
	r := NewRasterizer(testCaptureConfig(), testLogger(t))

	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{name: "wide image scaled to max", w: 960, h: 480, wantW: 480, wantH: 240},
		{name: "tall image scaled to max", w: 480, h: 960, wantW: 240, wantH: 480},
		{name: "small image never upscaled", w: 100, h: 50, wantW: 100, wantH: 50},
		{name: "exactly max untouched", w: 480, h: 480, wantW: 480, wantH: 480},
	}

	for _, tt := range tests {
		out, err := r.Scale(pngBytes(t, tt.w, tt.h))
		if err != nil {
			t.Fatalf("%s: Scale failed: %v", tt.name, err)
		}
		gotW, gotH := decodeSize(t, out)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Errorf("%s: got %dx%d, want %dx%d", tt.name, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}

func TestScaleRejectsGarbage(t *testing.T) {
	r := NewRasterizer(testCaptureConfig(), testLogger(t))
	if _, err := r.Scale([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFetchAndScale(t *testing.T) {
	payload := pngBytes(t, 600, 300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	r := NewRasterizer(testCaptureConfig(), testLogger(t))
	out, err := r.FetchAndScale(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("FetchAndScale failed: %v", err)
	}
	gotW, gotH := decodeSize(t, out)
	if gotW != 480 || gotH != 240 {
		t.Fatalf("got %dx%d, want 480x240", gotW, gotH)
	}
}

func TestFetchRejectsNonImageContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	r := NewRasterizer(testCaptureConfig(), testLogger(t))
	if _, err := r.FetchAndScale(context.Background(), server.URL); err == nil {
		t.Fatal("expected content-type rejection")
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := NewRasterizer(testCaptureConfig(), testLogger(t))
	if _, err := r.FetchAndScale(context.Background(), server.URL); err == nil {
		t.Fatal("expected status rejection")
	}
}

func TestSniffFrameFormat(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"png", pngBytes(t, 4, 4), "png", false},
		{"jpeg header", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpeg", false},
		{"gif header", []byte("GIF89a"), "gif", false},
		{"executable", []byte{0x4D, 0x5A, 0x90, 0x00}, "", true},
		{"svg", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`), "", true},
		{"empty", nil, "", true},
		{"unknown", []byte{0x00, 0x01, 0x02, 0x03}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SniffFrameFormat(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("format=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateFrameBytes(t *testing.T) {
	if _, err := ValidateFrameBytes(pngBytes(t, 8, 8)); err != nil {
		t.Fatalf("valid png rejected: %v", err)
	}
	// Valid signature but truncated body must fail at the metadata stage.
	if _, err := ValidateFrameBytes([]byte{0xFF, 0xD8, 0xFF}); err == nil {
		t.Fatal("truncated jpeg must be rejected")
	}
}
