package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisChannelName = "warden:notify"
)

// Notification 推送给用户的事件
type Notification struct {
	Type   string    `json:"type"`
	UserID uint      `json:"user_id"`
	Data   any       `json:"data,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Hub 维护活跃的客户端连接并按用户推送事件
type Hub struct {
	// 用户 ID -> 连接集合 (同一用户可多端在线)
	users map[uint]map[*Client]bool

	// 互斥锁，保护 map 的并发读写
	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	deliver    chan *Notification
	done       chan struct{}

	// Redis 客户端，用于多实例分发; 为 nil 时仅本地推送
	redis  *redis.Client
	logger *zap.Logger
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		users:      make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan *Notification, 64),
		done:       make(chan struct{}),
		redis:      redisClient,
		logger:     logger,
	}
}

// Run 处理注册、注销与投递, ctx 取消后关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.redis != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.users {
				for client := range set {
					close(client.send)
				}
			}
			h.users = make(map[uint]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.users[client.userID]; !ok {
				h.users[client.userID] = make(map[*Client]bool)
			}
			h.users[client.userID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case n := <-h.deliver:
			h.mu.Lock()
			for client := range h.users[n.UserID] {
				select {
				case client.send <- n:
				default:
					// 发送缓冲区满，断开慢连接
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove 调用方持有写锁
func (h *Hub) remove(client *Client) {
	set, ok := h.users[client.userID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.users, client.userID)
	}
}

// Connected 当前实例上该用户的连接数
func (h *Hub) Connected(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, redisChannelName)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				h.logger.Warn("丢弃无法解析的推送", zap.Error(err))
				continue
			}
			// 不再回发 Redis，直接交给本地分发
			select {
			case h.deliver <- &n:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Notify 向用户推送事件; 配置 Redis 时经由 Redis 发布, 所有实例 (包括自己) 都会收到
func (h *Hub) Notify(ctx context.Context, userID uint, eventType string, data any) error {
	n := &Notification{Type: eventType, UserID: userID, Data: data, SentAt: time.Now().UTC()}

	if h.redis != nil {
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return h.redis.Publish(ctx, redisChannelName, payload).Err()
	}

	select {
	case h.deliver <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
