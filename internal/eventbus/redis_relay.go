package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgeneration/radiance-ai/backend/config"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

// RedisRelay 通过 Redis 发布订阅在多个实例之间转发会话事件，
// 使连接在 A 实例上的 SSE 客户端也能收到 B 实例上运行的阶段事件
type RedisRelay struct {
	rdb     *goredis.Client
	channel string
	origin  string
	bus     *SessionEventBus
}

// NewRedisRelay 连接 Redis；未配置地址时返回 nil, nil
func NewRedisRelay(ctx context.Context, cfg config.RedisConfig, bus *SessionEventBus) (*RedisRelay, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, nil
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "radiance:session-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	klog.V(6).Infof("[RedisRelay] 已连接 Redis: addr=%s, channel=%s", addr, channel)
	return newRelay(rdb, channel, bus), nil
}

func newRelay(rdb *goredis.Client, channel string, bus *SessionEventBus) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		bus:     bus,
	}
}

// Attach 把本实例产生的事件转发到 Redis，返回取消订阅函数
func (r *RedisRelay) Attach() func() {
	return r.bus.SubscribeAll(func(ctx context.Context, event SessionEvent) error {
		if !relayable(event) {
			return nil
		}
		return r.forward(ctx, event)
	})
}

// relayable 只转发本实例产生的事件。stage_delta 携带截至当前的全部文本，
// 不跨实例转发；其他实例的订阅者收到 stage_completed 后读取会话中的响应。
func relayable(event SessionEvent) bool {
	if event.Origin != "" {
		return false
	}
	return event.Type != EventStageDelta
}

func (r *RedisRelay) forward(ctx context.Context, event SessionEvent) error {
	event.Origin = r.origin
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

// Run 订阅 Redis 频道并把其他实例的事件发布到本地总线，直到 ctx 结束
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			r.dispatch(ctx, []byte(m.Payload))
		}
	}
}

// dispatch 解析远端事件并发布到本地总线，忽略本实例自己发出的事件
func (r *RedisRelay) dispatch(ctx context.Context, payload []byte) {
	var event SessionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		klog.Warningf("[RedisRelay] 无法解析事件: %v", err)
		return
	}
	if event.Origin == "" || event.Origin == r.origin {
		return
	}
	if err := r.bus.Publish(ctx, event.SessionID, event); err != nil {
		klog.Warningf("[RedisRelay] 本地分发失败: sessionID=%s, error=%v", event.SessionID, err)
	}
}

func (r *RedisRelay) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
