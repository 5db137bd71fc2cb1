package feed

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sentinel-agent-go/src/capture"
	"sentinel-agent-go/src/configs"
	"sentinel-agent-go/src/core/dom"
	"sentinel-agent-go/src/core/loop"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/models"
	"sentinel-agent-go/src/remediation"
	"sentinel-agent-go/src/watcher"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session owns the pipeline for one connected page: its document mirror,
// element registry, dedup cache and capture components, all confined to one
// loop goroutine. The connection reader and the capture goroutines post
// into the loop; only frame/audio replies are resolved directly, since
// their waiters sit off-loop.
type Session struct {
	id       string
	conn     Conn
	config   *configs.Config
	settings *state.SettingsStore
	logger   *utils.TaggedLogger
	baseLog  *utils.Logger

	loop     *loop.Loop
	doc      *dom.Document
	reg      *state.Registry
	dedup    *state.DedupCache
	watch    *watcher.Watcher
	textDeb  *capture.TextDebouncer
	media    *capture.MediaPipeline
	renderer *remediation.Renderer

	// enabled caches the monitoring toggle; read and written on the loop.
	enabled bool

	pendingMu  sync.Mutex
	frames     map[string]chan frameReply
	recordings map[string]*recording
	hasAudio   map[string]bool

	unsubscribe func()
	closeOnce   sync.Once
	closed      chan struct{}
}

type frameReply struct {
	data []byte
	err  error
}

// recording accumulates audio packets until the host sends audio_end or the
// deadline forces a stop.
type recording struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	mime string
	done chan struct{}
	once sync.Once
}

// append 追加一个音频包。Opus包必须保留包边界，按2字节大端长度前缀分帧；
// mp3/wav是字节流，原样拼接
func (r *recording) append(packet []byte, mime string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mime == "" {
		r.mime = mime
	}
	if r.mime == "" || r.mime == "audio/opus" {
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], uint16(len(packet)))
		r.buf.Write(prefix[:])
	}
	r.buf.Write(packet)
}

func (r *recording) finish() {
	r.once.Do(func() { close(r.done) })
}

func (r *recording) snapshot() ([]byte, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	mime := r.mime
	if mime == "" {
		mime = "audio/opus"
	}
	return data, mime
}

// NewSession builds a session from the page's hello message.
func NewSession(
	conn Conn,
	hello *Message,
	config *configs.Config,
	settings *state.SettingsStore,
	events *state.EventLog,
	client capture.Submitter,
	raster *capture.Rasterizer,
	logger *utils.Logger,
) (*Session, error) {
	doc, err := dom.ParseSnapshot(hello.HTML)
	if err != nil {
		return nil, fmt.Errorf("解析页面快照失败: %v", err)
	}

	s := &Session{
		id:         uuid.New().String(),
		conn:       conn,
		config:     config,
		settings:   settings,
		logger:     logger.WithTag("session"),
		baseLog:    logger,
		loop:       loop.NewLoop(512),
		doc:        doc,
		reg:        state.NewRegistry(),
		dedup:      state.NewDedupCache(),
		enabled:    settings.LoadMonitoring(),
		frames:     make(map[string]chan frameReply),
		recordings: make(map[string]*recording),
		hasAudio:   make(map[string]bool),
		closed:     make(chan struct{}),
	}

	enabled := func() bool { return s.enabled }
	platform := hello.Platform
	if platform == "" {
		platform = config.Moderation.Platform
	}

	s.renderer = remediation.NewRenderer(s.reg, &sessionApplier{s: s}, logger)
	if events != nil {
		pageURL := hello.URL
		s.renderer.OnAction(func(el *dom.Element, contentType, label string, confidence float64) {
			events.Record(models.ModerationEvent{
				SessionID:   s.id,
				Platform:    platform,
				UserID:      hello.UserID,
				ElementID:   el.ID,
				ContentType: contentType,
				Label:       label,
				Confidence:  confidence,
			}, map[string]string{"tag": el.Tag, "url": pageURL})
		})
	}
	s.textDeb = capture.NewTextDebouncer(
		s.loop, s.reg, client, s.renderer, enabled,
		&config.Capture, platform, hello.UserID, logger,
	)
	s.media = capture.NewMediaPipeline(
		s.loop, s.reg, s.dedup, raster, s, client, s.renderer, enabled,
		&config.Capture, hello.UserID, hello.URL, logger,
	)

	s.watch = watcher.New(doc, s.loop, s.reg, logger)
	s.watch.Register("image", dom.IsImage, s.media.HandleImage)
	s.watch.Register("video", dom.IsVideo, s.media.BindVideo)
	s.watch.Register("text", dom.IsTextCapable, s.textDeb.Bind)
	s.watch.OnPrune(s.textDeb.Forget)
	s.watch.OnPrune(s.forgetAudio)

	return s, nil
}

// Run starts the loop and processes inbound messages until the connection
// drops or the page says bye. Blocks the caller.
func (s *Session) Run(ctx context.Context) {
	go s.loop.Run()
	defer s.Close()

	s.unsubscribe = s.settings.OnChange(func(enabled bool) {
		s.loop.Post(func() {
			s.enabled = enabled
			s.logger.Info("监控开关状态已更新", map[string]interface{}{
				"session": s.id,
				"enabled": enabled,
			})
		})
	})

	s.loop.Post(func() {
		s.watch.Start(s.config.Capture.SweepDelay())
	})

	s.logger.Info("页面会话已建立", map[string]interface{}{"session": s.id})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("连接读取结束", map[string]interface{}{"error": err.Error()})
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("消息解析失败", map[string]interface{}{"error": err.Error()})
			continue
		}
		if s.handle(&msg) {
			return
		}
	}
}

// handle routes one inbound message. Returns true when the session should
// end.
func (s *Session) handle(msg *Message) bool {
	switch msg.Type {
	case MsgMutation:
		s.loop.Post(func() { s.applyMutation(msg) })
	case MsgInput:
		id, value := msg.ElementID, msg.Value
		s.loop.Post(func() {
			el := s.doc.ByID(id)
			if el == nil {
				return
			}
			el.Value = value
			s.textDeb.HandleInput(el)
		})
	case MsgPlay:
		id, hasAudio := msg.ElementID, msg.HasAudio
		s.pendingMu.Lock()
		s.hasAudio[id] = hasAudio
		s.pendingMu.Unlock()
		s.loop.Post(func() {
			el := s.doc.ByID(id)
			if el == nil {
				return
			}
			s.media.HandlePlay(el)
		})
	case MsgFrame:
		s.resolveFrame(msg)
	case MsgAudioFrame:
		s.appendAudio(msg)
	case MsgAudioEnd:
		s.endAudio(msg.RequestID)
	case MsgBye:
		return true
	default:
		s.logger.Debug("忽略未知消息类型", map[string]interface{}{"type": msg.Type})
	}
	return false
}

// applyMutation runs on the loop: removals first so re-inserted subtrees
// come back as fresh elements, then fragment inserts.
func (s *Session) applyMutation(msg *Message) {
	for _, id := range msg.RemovedIDs {
		s.doc.Remove(id)
	}
	if msg.Fragment == "" {
		return
	}
	roots, err := dom.ParseFragment(msg.Fragment)
	if err != nil {
		s.logger.Warn("解析变更片段失败", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, root := range roots {
		s.doc.Insert(msg.ParentID, root)
	}
}

// Close tears the session down. Pending frame waiters are failed so capture
// goroutines release their locks.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.pendingMu.Lock()
		for id, ch := range s.frames {
			ch <- frameReply{err: ErrConnectionClosed}
			delete(s.frames, id)
		}
		for _, rec := range s.recordings {
			rec.finish()
		}
		s.pendingMu.Unlock()
		s.conn.Close()
		s.loop.Stop()
		s.logger.Info("页面会话已结束", map[string]interface{}{"session": s.id})
	})
}

// ID returns the session identity.
func (s *Session) ID() string {
	return s.id
}

// Send marshals and writes one command to the page host.
func (s *Session) Send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// CaptureFrame implements capture.MediaHost: ask the host for one raw frame
// and wait for the correlated reply. No explicit deadline; a dead
// connection resolves the wait instead.
func (s *Session) CaptureFrame(ctx context.Context, elementID string) ([]byte, error) {
	requestID := uuid.New().String()
	ch := make(chan frameReply, 1)

	s.pendingMu.Lock()
	s.frames[requestID] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.frames, requestID)
		s.pendingMu.Unlock()
	}()

	err := s.Send(Command{Type: CmdCaptureFrame, RequestID: requestID, ElementID: elementID})
	if err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply.data, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrConnectionClosed
	}
}

// CaptureAudio implements capture.MediaHost: start a bounded recording and
// race natural completion against the deadline, force-stopping on timeout.
func (s *Session) CaptureAudio(ctx context.Context, elementID string, maxDur time.Duration) ([]byte, string, error) {
	requestID := uuid.New().String()
	rec := &recording{done: make(chan struct{})}

	s.pendingMu.Lock()
	s.recordings[requestID] = rec
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.recordings, requestID)
		s.pendingMu.Unlock()
	}()

	err := s.Send(Command{
		Type:      CmdCaptureAudio,
		RequestID: requestID,
		ElementID: elementID,
		MaxMS:     int(maxDur / time.Millisecond),
	})
	if err != nil {
		return nil, "", err
	}

	timer := time.NewTimer(maxDur)
	defer timer.Stop()

	select {
	case <-rec.done:
	case <-timer.C:
		// 到达录制上限，强制停止
		s.Send(Command{Type: CmdStopAudio, RequestID: requestID})
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-s.closed:
		return nil, "", ErrConnectionClosed
	}

	data, mime := rec.snapshot()
	if len(data) == 0 {
		return nil, "", fmt.Errorf("录音为空")
	}
	return data, mime, nil
}

// HasAudioTrack implements capture.MediaHost.
func (s *Session) HasAudioTrack(elementID string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.hasAudio[elementID]
}

// forgetAudio 清理已移除元素的音轨标记
func (s *Session) forgetAudio(id string) {
	s.pendingMu.Lock()
	delete(s.hasAudio, id)
	s.pendingMu.Unlock()
}

func (s *Session) resolveFrame(msg *Message) {
	s.pendingMu.Lock()
	ch, ok := s.frames[msg.RequestID]
	if ok {
		delete(s.frames, msg.RequestID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	if len(msg.Data) == 0 {
		ch <- frameReply{err: fmt.Errorf("页面端未返回帧数据")}
		return
	}
	ch <- frameReply{data: msg.Data}
}

func (s *Session) appendAudio(msg *Message) {
	s.pendingMu.Lock()
	rec := s.recordings[msg.RequestID]
	s.pendingMu.Unlock()
	if rec == nil || len(msg.Data) == 0 {
		return
	}
	rec.append(msg.Data, msg.MIME)
}

func (s *Session) endAudio(requestID string) {
	s.pendingMu.Lock()
	rec := s.recordings[requestID]
	s.pendingMu.Unlock()
	if rec != nil {
		rec.finish()
	}
}

// sessionApplier mirrors remediation writes into the document and forwards
// them to the live page.
type sessionApplier struct {
	s *Session
}

func (a *sessionApplier) ApplyStyles(el *dom.Element, styles map[string]string) {
	for prop, v := range styles {
		el.SetStyle(prop, v)
	}
	a.s.Send(Command{Type: CmdApplyStyles, ElementID: el.ID, Styles: styles})
}

func (a *sessionApplier) InsertOverlay(ref *dom.Element, overlay *dom.Element) {
	a.s.doc.InsertAfter(ref, overlay)
	a.s.Send(Command{
		Type:      CmdInsertOverlay,
		ElementID: ref.ID,
		Tag:       overlay.Tag,
		Class:     overlay.Attr("class"),
		Text:      overlay.Text,
	})
}
