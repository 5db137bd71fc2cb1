package capture

import (
	"context"
	"strings"
	"unicode/utf8"

	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/dom"
	"sentinel-agent-go/src/core/loop"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/moderation"
	"sentinel-agent-go/src/remediation"
)

// Submitter is the outbound moderation boundary. *moderation.Client
// implements it; tests substitute fakes.
type Submitter interface {
	SubmitText(ctx context.Context, req *moderation.TextRequest) *moderation.TextResult
	SubmitMedia(ctx context.Context, req *moderation.MediaRequest) *moderation.MediaResult
}

// TargetUserAttr names the attribute the page host uses to tag which user a
// text field is directed at, when the platform exposes that.
const TargetUserAttr = "data-target-user"

// TextDebouncer coalesces rapid input on a bound element into one submission
// after a quiet interval. Failures are swallowed: typing is never blocked or
// delayed by moderation.
type TextDebouncer struct {
	loop     *loop.Loop
	reg      *state.Registry
	client   Submitter
	renderer *remediation.Renderer
	enabled  func() bool
	cfg      *configs.CaptureConfig
	platform string
	userID   string
	logger   *utils.TaggedLogger

	timers map[string]*loop.Timer
}

// NewTextDebouncer wires the debouncer for one page session. enabled is the
// session's cached monitoring flag; it is read on the loop goroutine only.
func NewTextDebouncer(
	lp *loop.Loop,
	reg *state.Registry,
	client Submitter,
	renderer *remediation.Renderer,
	enabled func() bool,
	cfg *configs.CaptureConfig,
	platform, userID string,
	logger *utils.Logger,
) *TextDebouncer {
	return &TextDebouncer{
		loop:     lp,
		reg:      reg,
		client:   client,
		renderer: renderer,
		enabled:  enabled,
		cfg:      cfg,
		platform: platform,
		userID:   userID,
		logger:   logger.WithTag("text"),
		timers:   make(map[string]*loop.Timer),
	}
}

// Bind is the watcher handler for text-capable elements. The bound flag is
// already claimed by the watcher; nothing else to attach on this side.
func (t *TextDebouncer) Bind(el *dom.Element) {
	t.logger.Debug("绑定文本元素", map[string]interface{}{"element": el.ID})
}

// HandleInput runs on the loop for every input event: cancel the pending
// timer for this element and re-arm the quiet interval.
func (t *TextDebouncer) HandleInput(el *dom.Element) {
	if !t.enabled() {
		return
	}
	if !t.reg.Get(el.ID).Bound {
		return
	}
	if timer, ok := t.timers[el.ID]; ok {
		timer.Cancel()
	}
	t.timers[el.ID] = t.loop.AfterFunc(t.cfg.Debounce(), func() {
		t.fire(el)
	})
}

// Forget drops the pending timer for a detached element.
func (t *TextDebouncer) Forget(id string) {
	if timer, ok := t.timers[id]; ok {
		timer.Cancel()
		delete(t.timers, id)
	}
}

// fire runs on the loop after the quiet interval. It reads the element's
// current value, skips anything at or under the minimum length, and submits
// the rest off-loop.
func (t *TextDebouncer) fire(el *dom.Element) {
	delete(t.timers, el.ID)
	if !t.enabled() || el.Detached() {
		return
	}

	content := strings.TrimSpace(el.Value)
	if utf8.RuneCountInString(content) <= t.cfg.MinTextLen {
		return
	}

	req := &moderation.TextRequest{
		Platform:     t.platform,
		UserID:       t.userID,
		TargetUserID: el.Attr(TargetUserAttr),
		ContentType:  "text",
		Content:      content,
	}

	go func() {
		result := t.client.SubmitText(context.Background(), req)
		if result == nil || !moderation.IsElevated(result.RiskLevel) {
			return
		}
		t.loop.Post(func() {
			t.renderer.Highlight(el, result.RiskLevel)
		})
	}()
}
