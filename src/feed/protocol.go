package feed

// Wire protocol between the agent and the in-page host script. All messages
// are JSON text frames; binary audio packets ride inside audio messages as
// base64.

// Inbound message types.
const (
	MsgHello      = "hello"
	MsgMutation   = "mutation"
	MsgInput      = "input"
	MsgPlay       = "play"
	MsgFrame      = "frame"
	MsgAudioFrame = "audio_frame"
	MsgAudioEnd   = "audio_end"
	MsgBye        = "bye"
)

// Outbound command types.
const (
	CmdCaptureFrame  = "capture_frame"
	CmdCaptureAudio  = "capture_audio"
	CmdStopAudio     = "stop_audio"
	CmdApplyStyles   = "apply_styles"
	CmdInsertOverlay = "insert_overlay"
	CmdOpenDashboard = "open_dashboard"
)

// Message is one inbound frame from the page host. Fields are populated per
// Type; unused ones stay zero.
type Message struct {
	Type string `json:"type"`

	// hello
	URL      string `json:"url,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Platform string `json:"platform,omitempty"`
	HTML     string `json:"html,omitempty"`

	// mutation
	ParentID   string   `json:"parent_id,omitempty"`
	Fragment   string   `json:"fragment,omitempty"`
	RemovedIDs []string `json:"removed_ids,omitempty"`

	// input / play / frame / audio
	ElementID string `json:"element_id,omitempty"`
	Value     string `json:"value,omitempty"`
	HasAudio  bool   `json:"has_audio,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Data      []byte `json:"data,omitempty"` // base64 on the wire
	MIME      string `json:"mime,omitempty"`
}

// Command is one outbound frame to the page host.
type Command struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	ElementID string            `json:"element_id,omitempty"`
	MaxMS     int               `json:"max_ms,omitempty"`
	Styles    map[string]string `json:"styles,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Class     string            `json:"class,omitempty"`
	Text      string            `json:"text,omitempty"`
	URL       string            `json:"url,omitempty"`
}
