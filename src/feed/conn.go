package feed

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("websocket connection is closed")

// Conn 页面端连接抽象，便于测试替换
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Upgrader WebSocket升级器接口
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}

// websocketConn 封装gorilla/websocket的连接实现
type websocketConn struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex // 写操作互斥锁
	closed     int32      // 原子操作标记连接状态 (0=open, 1=closed)
	lastActive int64      // 最后活跃时间戳（原子操作）
}

func (w *websocketConn) ReadMessage() (messageType int, p []byte, err error) {
	if atomic.LoadInt32(&w.closed) == 1 {
		return 0, nil, ErrConnectionClosed
	}

	// 设置读取超时
	w.conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

	messageType, p, err = w.conn.ReadMessage()
	if err != nil {
		// 如果读取出错，标记连接为已关闭
		atomic.StoreInt32(&w.closed, 1)
		return 0, nil, err
	}

	// 更新最后活跃时间
	atomic.StoreInt64(&w.lastActive, time.Now().Unix())

	return messageType, p, nil
}

func (w *websocketConn) WriteMessage(messageType int, data []byte) error {
	// 检查连接状态
	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrConnectionClosed
	}

	// 使用写锁确保写操作的串行化
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	// 双重检查，防止在获取锁的过程中连接被关闭
	if atomic.LoadInt32(&w.closed) == 1 {
		return ErrConnectionClosed
	}

	// 设置写入超时
	w.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))

	err := w.conn.WriteMessage(messageType, data)
	if err != nil {
		// 如果写入出错，标记连接为已关闭
		atomic.StoreInt32(&w.closed, 1)
		return err
	}

	// 更新最后活跃时间
	atomic.StoreInt64(&w.lastActive, time.Now().Unix())

	return nil
}

func (w *websocketConn) Close() error {
	// 使用原子操作避免重复关闭
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return nil // 已经关闭过了
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	// 尝试发送关闭帧（不强制要求成功）
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed")
	w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	w.conn.WriteMessage(websocket.CloseMessage, closeMsg)

	return w.conn.Close()
}

// defaultUpgrader 默认的WebSocket升级器实现
type defaultUpgrader struct {
	wsUpgrader *websocket.Upgrader
}

// NewDefaultUpgrader 创建默认的WebSocket升级器
func NewDefaultUpgrader() *defaultUpgrader {
	return &defaultUpgrader{
		wsUpgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源的连接
			},
		},
	}
}

// Upgrade 实现Upgrader接口
func (u *defaultUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := u.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}
