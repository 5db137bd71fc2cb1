package capture

import (
	"context"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/dom"
	"sentinel-agent-go/src/core/loop"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/moderation"
	"sentinel-agent-go/src/remediation"
)

// MediaPipeline runs the image and video capture paths for one page
// session. Eligibility checks and flag writes happen on the session loop;
// everything that can suspend (fetch, decode, recording, submission) runs on
// its own goroutine and posts results back.
type MediaPipeline struct {
	loop     *loop.Loop
	reg      *state.Registry
	dedup    *state.DedupCache
	raster   *Rasterizer
	host     MediaHost
	client   Submitter
	renderer *remediation.Renderer
	enabled  func() bool
	cfg      *configs.CaptureConfig
	userID   string
	pageURL  string
	logger   *utils.TaggedLogger
}

// NewMediaPipeline wires the pipeline for one page session.
func NewMediaPipeline(
	lp *loop.Loop,
	reg *state.Registry,
	dedup *state.DedupCache,
	raster *Rasterizer,
	host MediaHost,
	client Submitter,
	renderer *remediation.Renderer,
	enabled func() bool,
	cfg *configs.CaptureConfig,
	userID, pageURL string,
	logger *utils.Logger,
) *MediaPipeline {
	return &MediaPipeline{
		loop:     lp,
		reg:      reg,
		dedup:    dedup,
		raster:   raster,
		host:     host,
		client:   client,
		renderer: renderer,
		enabled:  enabled,
		cfg:      cfg,
		userID:   userID,
		pageURL:  pageURL,
		logger:   logger.WithTag("media"),
	}
}

// HandleImage is the watcher handler for image elements. Runs on the loop.
// The dedup claim happens here, before any asynchronous step, so a second
// notification for the same resource can never pass the check.
func (p *MediaPipeline) HandleImage(el *dom.Element) {
	if !p.enabled() {
		return
	}
	src := el.Attr("src")
	if src == "" {
		return
	}
	if el.RenderedWidth() < p.cfg.MinImagePX || el.RenderedHeight() < p.cfg.MinImagePX {
		return
	}
	if !p.dedup.Claim(src) {
		return
	}

	go p.analyzeImage(el, src)
}

// analyzeImage runs off-loop: fetch through the pixel-access clone,
// rasterize, submit, then post the verdict back.
func (p *MediaPipeline) analyzeImage(el *dom.Element, src string) {
	frame, err := p.raster.FetchAndScale(context.Background(), src)
	if err != nil {
		p.logger.Debug("图片采集失败，跳过本轮", map[string]interface{}{
			"element": el.ID,
			"error":   err.Error(),
		})
		return
	}

	result := p.client.SubmitMedia(context.Background(), &moderation.MediaRequest{
		Image:   frame,
		UserID:  p.userID,
		Context: p.pageURL,
	})
	p.applyVerdict(el, result)
}

// BindVideo is the watcher handler for video elements. Capture itself is
// driven by playback-start events, so binding only claims the element.
func (p *MediaPipeline) BindVideo(el *dom.Element) {
	p.logger.Debug("绑定视频元素", map[string]interface{}{"element": el.ID})
}

// HandlePlay is invoked on the loop when a video element starts playback.
// The settle delay lets the first frames stabilize before capture.
func (p *MediaPipeline) HandlePlay(el *dom.Element) {
	if !p.enabled() {
		return
	}
	p.loop.AfterFunc(p.cfg.Settle(), func() {
		p.beginVideoRound(el)
	})
}

// beginVideoRound runs on the loop. The analyzing check-and-set has no
// suspension point between check and set, so overlapping play events for
// the same element collapse into one round.
func (p *MediaPipeline) beginVideoRound(el *dom.Element) {
	if !p.enabled() || el.Detached() {
		return
	}
	if !p.reg.BeginAnalysis(el.ID) {
		return
	}
	go p.analyzeVideo(el)
}

// analyzeVideo runs off-loop. The deferred post releases the analyzing lock
// on every path, success or failure, after any verdict post already queued.
func (p *MediaPipeline) analyzeVideo(el *dom.Element) {
	defer p.loop.Post(func() {
		p.reg.EndAnalysis(el.ID)
	})

	raw, err := p.host.CaptureFrame(context.Background(), el.ID)
	if err != nil {
		p.logger.Debug("视频帧采集失败，跳过本轮", map[string]interface{}{
			"element": el.ID,
			"error":   err.Error(),
		})
		return
	}
	frame, err := p.raster.Scale(raw)
	if err != nil {
		p.logger.Debug("视频帧处理失败，跳过本轮", map[string]interface{}{
			"element": el.ID,
			"error":   err.Error(),
		})
		return
	}

	var clip []byte
	if p.host.HasAudioTrack(el.ID) {
		raw, mime, err := p.host.CaptureAudio(context.Background(), el.ID, p.cfg.AudioClip())
		if err == nil {
			if wav, err := TranscodeClip(raw, mime); err == nil {
				clip = wav
			}
		}
		// 录音失败只影响音频载荷，帧照常提交
	}

	req := &moderation.MediaRequest{
		Image:   frame,
		Audio:   clip,
		UserID:  p.userID,
		Context: p.pageURL,
	}
	if req.Empty() {
		return
	}

	result := p.client.SubmitMedia(context.Background(), req)
	p.applyVerdict(el, result)
}

// applyVerdict posts the shield decision back onto the loop. A nil result
// (transport failure, bad status, malformed body) means no action.
func (p *MediaPipeline) applyVerdict(el *dom.Element, result *moderation.MediaResult) {
	if result == nil || !result.Actionable() {
		return
	}
	label := result.AuthenticityLabel
	confidence := result.Confidence()
	p.loop.Post(func() {
		p.renderer.Shield(el, label, confidence)
	})
}
