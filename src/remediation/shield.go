// Package remediation renders the visual consequences of a moderation
// verdict back onto the page: the blur-and-label shield for flagged media
// and the border highlight for aggressive text.
package remediation

import (
	"fmt"

	"sentinel-agent-go/src/core/dom"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
)

// Applier executes the concrete page writes. The session implementation
// mutates the document mirror and forwards the same operations to the page
// host over the feed connection.
type Applier interface {
	ApplyStyles(el *dom.Element, styles map[string]string)
	InsertOverlay(ref *dom.Element, overlay *dom.Element)
}

// OverlayClass marks overlay nodes inserted by the agent.
const OverlayClass = "sentinel-shield-overlay"

// Renderer applies shields idempotently. Must be driven from the session
// loop goroutine.
type Renderer struct {
	reg      *state.Registry
	out      Applier
	logger   *utils.TaggedLogger
	onAction func(el *dom.Element, contentType, label string, confidence float64)
}

// NewRenderer creates a renderer writing through the given applier.
func NewRenderer(reg *state.Registry, out Applier, logger *utils.Logger) *Renderer {
	return &Renderer{
		reg:    reg,
		out:    out,
		logger: logger.WithTag("shield"),
	}
}

// OnAction registers a hook invoked once per applied remediation, on the
// loop goroutine. Used to persist hit records.
func (r *Renderer) OnAction(fn func(el *dom.Element, contentType, label string, confidence float64)) {
	r.onAction = fn
}

// Shield degrades the element and inserts an adjacent label overlay. A
// second call for the same element is a no-op, as is a call for an element
// detached between capture and response.
func (r *Renderer) Shield(el *dom.Element, label string, confidence float64) {
	if el == nil || el.Detached() || el.Parent == nil {
		return
	}
	if !r.reg.MarkShielded(el.ID) {
		return
	}

	r.out.ApplyStyles(el, map[string]string{
		"filter":         "blur(12px) grayscale(60%)",
		"pointer-events": "none",
	})

	overlay := dom.NewElement("div")
	overlay.SetAttr("class", OverlayClass)
	overlay.Text = fmt.Sprintf("⚠ %s (%.0f%%)", label, confidence)
	r.out.InsertOverlay(el, overlay)

	r.logger.Info("已为元素加上遮罩", map[string]interface{}{
		"element":    el.ID,
		"label":      label,
		"confidence": confidence,
	})
	if r.onAction != nil {
		r.onAction(el, "media", label, confidence)
	}
}

// Highlight marks a text element whose content came back with an elevated
// risk level. Non-destructive and not guaranteed to clear.
func (r *Renderer) Highlight(el *dom.Element, riskLevel string) {
	if el == nil || el.Detached() {
		return
	}
	r.out.ApplyStyles(el, map[string]string{
		"border":     "2px solid #e53935",
		"box-shadow": "0 0 4px rgba(229,57,53,0.6)",
	})
	if r.onAction != nil {
		r.onAction(el, "text", riskLevel, 0)
	}
}

// DocumentApplier writes directly to the mirror. Sessions wrap it to also
// emit feed commands.
type DocumentApplier struct {
	Doc *dom.Document
}

func (a *DocumentApplier) ApplyStyles(el *dom.Element, styles map[string]string) {
	for prop, v := range styles {
		el.SetStyle(prop, v)
	}
}

func (a *DocumentApplier) InsertOverlay(ref *dom.Element, overlay *dom.Element) {
	a.Doc.InsertAfter(ref, overlay)
}
