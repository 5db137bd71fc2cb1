package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"sentinel-agent-go/src/core/dom"
	"sentinel-agent-go/src/core/loop"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/moderation"
	"sentinel-agent-go/src/remediation"
)

// fakeSubmitter records submissions and plays back canned verdicts.
type fakeSubmitter struct {
	mu         sync.Mutex
	textReqs   []*moderation.TextRequest
	mediaReqs  []*moderation.MediaRequest
	textResult *moderation.TextResult
	mediaRes   *moderation.MediaResult
	mediaDelay time.Duration
}

func (f *fakeSubmitter) SubmitText(ctx context.Context, req *moderation.TextRequest) *moderation.TextResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textReqs = append(f.textReqs, req)
	return f.textResult
}

func (f *fakeSubmitter) SubmitMedia(ctx context.Context, req *moderation.MediaRequest) *moderation.MediaResult {
	if f.mediaDelay > 0 {
		time.Sleep(f.mediaDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mediaReqs = append(f.mediaReqs, req)
	return f.mediaRes
}

func (f *fakeSubmitter) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.textReqs)
}

func (f *fakeSubmitter) mediaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mediaReqs)
}

type textFixture struct {
	lp       *loop.Loop
	doc      *dom.Document
	reg      *state.Registry
	client   *fakeSubmitter
	deb      *TextDebouncer
	enabled  bool
	renderer *remediation.Renderer
}

func newTextFixture(t *testing.T, result *moderation.TextResult) *textFixture {
	t.Helper()
	logger := testLogger(t)
	lp := loop.NewLoop(64)
	go lp.Run()
	t.Cleanup(lp.Stop)

	cfg := testCaptureConfig()
	cfg.DebounceMS = 25

	f := &textFixture{
		lp:      lp,
		doc:     dom.NewDocument(),
		reg:     state.NewRegistry(),
		client:  &fakeSubmitter{textResult: result},
		enabled: true,
	}
	f.renderer = remediation.NewRenderer(f.reg, &remediation.DocumentApplier{Doc: f.doc}, logger)
	f.deb = NewTextDebouncer(
		lp, f.reg, f.client, f.renderer,
		func() bool { return f.enabled },
		cfg, "web", "u1", logger,
	)
	return f
}

func (f *textFixture) boundInput(t *testing.T, id string) *dom.Element {
	t.Helper()
	roots, err := dom.ParseFragment(`<textarea data-sentinel-id="` + id + `"></textarea>`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	f.lp.Post(func() {
		f.doc.Insert(f.doc.Root.ID, roots[0])
		f.reg.Bind(id)
	})
	return roots[0]
}

func (f *textFixture) typeValue(el *dom.Element, value string) {
	f.lp.Post(func() {
		el.Value = value
		f.deb.HandleInput(el)
	})
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestShortTextNeverSubmitted(t *testing.T) {
	f := newTextFixture(t, nil)
	el := f.boundInput(t, "msg")

	f.typeValue(el, "ab ")
	time.Sleep(100 * time.Millisecond)

	if f.client.textCount() != 0 {
		t.Fatal("3-character input must never produce a request")
	}
}

func TestQuietIntervalProducesExactlyOneSubmission(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskCalm})
	el := f.boundInput(t, "msg")

	// A burst of keystrokes re-arms the timer each time.
	for _, v := range []string{"h", "he", "hel", "hell", "hello"} {
		f.typeValue(el, v)
		time.Sleep(5 * time.Millisecond)
	}

	if !waitFor(t, func() bool { return f.client.textCount() == 1 }, time.Second) {
		t.Fatalf("expected exactly one submission, got %d", f.client.textCount())
	}
	time.Sleep(60 * time.Millisecond)
	if f.client.textCount() != 1 {
		t.Fatalf("burst must coalesce into one submission, got %d", f.client.textCount())
	}

	req := f.client.textReqs[0]
	if req.Content != "hello" || req.ContentType != "text" || req.Platform != "web" {
		t.Fatalf("request shape wrong: %+v", req)
	}
}

func TestElevatedRiskHighlightsElement(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskEscalating})
	el := f.boundInput(t, "msg")

	f.typeValue(el, "you are awful")

	if !waitFor(t, func() bool { return el.Style("border") != "" }, time.Second) {
		t.Fatal("elevated risk must apply the border affordance")
	}
}

func TestCalmRiskLeavesElementAlone(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskCalm})
	el := f.boundInput(t, "msg")

	f.typeValue(el, "have a nice day")

	if !waitFor(t, func() bool { return f.client.textCount() == 1 }, time.Second) {
		t.Fatal("submission expected")
	}
	time.Sleep(20 * time.Millisecond)
	if el.Style("border") != "" {
		t.Fatal("calm verdict must not mark the element")
	}
}

func TestDisabledMonitoringBlocksSubmission(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskCalm})
	el := f.boundInput(t, "msg")

	f.lp.Post(func() { f.enabled = false })
	f.typeValue(el, "hello there")
	time.Sleep(100 * time.Millisecond)

	if f.client.textCount() != 0 {
		t.Fatal("no submission may be dispatched while monitoring is off")
	}
}

func TestToggleOffDuringQuietIntervalSuppressesFire(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskCalm})
	el := f.boundInput(t, "msg")

	f.typeValue(el, "hello there")
	// Toggle lands before the debounce window closes.
	f.lp.Post(func() { f.enabled = false })
	time.Sleep(100 * time.Millisecond)

	if f.client.textCount() != 0 {
		t.Fatal("fire after toggle-off must be suppressed")
	}
}

func TestUnboundElementIgnored(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskCalm})
	roots, _ := dom.ParseFragment(`<textarea data-sentinel-id="loose"></textarea>`)
	el := roots[0]
	f.lp.Post(func() { f.doc.Insert(f.doc.Root.ID, el) })

	f.typeValue(el, "hello there")
	time.Sleep(100 * time.Millisecond)

	if f.client.textCount() != 0 {
		t.Fatal("input on an unbound element must be ignored")
	}
}

func TestForgetCancelsPendingTimer(t *testing.T) {
	f := newTextFixture(t, &moderation.TextResult{RiskLevel: moderation.RiskCalm})
	el := f.boundInput(t, "msg")

	f.typeValue(el, "hello there")
	f.lp.Post(func() { f.deb.Forget(el.ID) })
	time.Sleep(100 * time.Millisecond)

	if f.client.textCount() != 0 {
		t.Fatal("forgotten element must not fire")
	}
}
