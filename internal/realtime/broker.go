package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// 事件类型。
const (
	EventDeviceVerdict    = "device_verdict"
	EventDeviceTransition = "device_transition"
	EventDeviceDeleted    = "device_deleted"
	EventScanStarted      = "scan_started"
	EventScanCompleted    = "scan_completed"
)

// Event 描述推送给 SSE 与 WebSocket 订阅者的消息载荷。
type Event struct {
	Type     string      `json:"type"`
	DeviceID int64       `json:"deviceId,omitempty"`
	SiteID   int64       `json:"siteId,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

// Broker 负责向实时订阅者分发事件。
type Broker struct {
	mu       sync.RWMutex
	clients  map[chan []byte]struct{}
	shutdown chan struct{}
	once     sync.Once
}

// NewBroker 创建一个新的 Broker 实例。
func NewBroker() *Broker {
	return &Broker{
		clients:  make(map[chan []byte]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Subscribe 注册客户端通道并返回清理函数。
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cleanup
}

// Publish 将事件广播给所有订阅者。
func (b *Broker) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[realtime] encode event type=%s err=%v", evt.Type, err)
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- data:
		default:
			// 订阅者处理过慢时丢弃消息。
		}
	}
}

// Subscribers 返回当前订阅者数量。
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Done 在 Close 之后关闭，供长连接处理器退出。
func (b *Broker) Done() <-chan struct{} {
	return b.shutdown
}

// Close 通知所有长连接结束。
func (b *Broker) Close() {
	b.once.Do(func() { close(b.shutdown) })
}
