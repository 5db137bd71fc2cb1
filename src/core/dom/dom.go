// Package dom keeps an in-memory mirror of the monitored page's document.
// The page host streams an initial HTML snapshot and subsequent subtree
// mutations; the agent applies them here and runs the interception pipeline
// against the mirror instead of touching the live page directly.
package dom

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Element is one node of the mirrored tree. Identity comes from the
// data-sentinel-id attribute the page host stamps on every node before
// serializing; nodes without one get a generated id on this side.
type Element struct {
	ID       string
	Tag      string
	Attrs    map[string]string
	Styles   map[string]string
	Text     string
	Value    string // current value for text-capable elements
	Parent   *Element
	Children []*Element

	detached bool
}

// IDAttr is the identity attribute stamped by the page host.
const IDAttr = "data-sentinel-id"

// NewElement creates a detached element with a generated id.
func NewElement(tag string) *Element {
	return &Element{
		ID:     uuid.New().String(),
		Tag:    strings.ToLower(tag),
		Attrs:  make(map[string]string),
		Styles: make(map[string]string),
	}
}

// Attr returns the attribute value or "".
func (e *Element) Attr(name string) string {
	return e.Attrs[name]
}

// SetAttr sets an attribute.
func (e *Element) SetAttr(name, value string) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
}

// SetStyle sets one inline style property.
func (e *Element) SetStyle(prop, value string) {
	if e.Styles == nil {
		e.Styles = make(map[string]string)
	}
	e.Styles[prop] = value
}

// Style returns one inline style property or "".
func (e *Element) Style(prop string) string {
	return e.Styles[prop]
}

// Detached reports whether the element has been removed from the tree. A
// late moderation response for a detached element must be a no-op.
func (e *Element) Detached() bool {
	return e.detached
}

// RenderedWidth returns the rendered width in pixels as reported by the page
// host, 0 when unknown.
func (e *Element) RenderedWidth() int {
	return intAttr(e, "width")
}

// RenderedHeight returns the rendered height in pixels, 0 when unknown.
func (e *Element) RenderedHeight() int {
	return intAttr(e, "height")
}

func intAttr(e *Element, name string) int {
	v := e.Attr(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Walk visits e and all descendants depth-first. Returning false from fn
// stops the walk.
func (e *Element) Walk(fn func(*Element) bool) bool {
	if !fn(e) {
		return false
	}
	for _, child := range e.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// AppendChild attaches child under e.
func (e *Element) AppendChild(child *Element) {
	child.Parent = e
	e.Children = append(e.Children, child)
}

// textInputTypes are the input types whose values are worth intercepting.
var textInputTypes = map[string]bool{
	"": true, "text": true, "search": true, "email": true, "url": true,
}

// IsTextCapable reports whether the element accepts free text input.
func IsTextCapable(e *Element) bool {
	switch e.Tag {
	case "textarea":
		return true
	case "input":
		return textInputTypes[strings.ToLower(e.Attr("type"))]
	default:
		return strings.EqualFold(e.Attr("contenteditable"), "true")
	}
}

// IsImage reports whether the element is an image with a source.
func IsImage(e *Element) bool {
	return e.Tag == "img"
}

// IsVideo reports whether the element is a video.
func IsVideo(e *Element) bool {
	return e.Tag == "video"
}
