// Package chat 实现 "Ask Radiance" 问答：基于会话的病例档案回答患者的追问。
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/eventbus"
	"github.com/dgeneration/radiance-ai/backend/internal/metrics"
	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/llm"
	"github.com/dgeneration/radiance-ai/backend/internal/repository"
	"github.com/dgeneration/radiance-ai/backend/internal/utils"
	"k8s.io/klog/v2"
)

// TimeoutReply 超时后代替模型回答写入的消息
const TimeoutReply = "I'm sorry, I couldn't respond in time. Please try again."

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyQuestion   = errors.New("question is empty")
)

type Options struct {
	// Timeout 等待模型回答的时长，超时后返回 TimeoutReply，0 表示不限制
	Timeout time.Duration
	// HistoryLimit 附带的最近消息条数
	HistoryLimit int
}

type Service struct {
	sessions repository.SessionRepository
	messages repository.ChatRepository
	model    einomodel.BaseChatModel
	prompts  *domain.PromptCatalog
	bus      *eventbus.SessionEventBus
	opts     Options
}

func NewService(
	sessions repository.SessionRepository,
	messages repository.ChatRepository,
	cm einomodel.BaseChatModel,
	prompts *domain.PromptCatalog,
	bus *eventbus.SessionEventBus,
	opts Options,
) *Service {
	if prompts == nil {
		prompts = domain.DefaultPrompts()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &Service{
		sessions: sessions,
		messages: messages,
		model:    cm,
		prompts:  prompts,
		bus:      bus,
		opts:     opts,
	}
}

// History 按创建时间升序返回会话的全部问答消息
func (s *Service) History(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if _, err := s.session(sessionID); err != nil {
		return nil, err
	}
	return s.messages.ListBySession(sessionID)
}

// Ask 记录用户问题并返回助手回答。sink 非 nil 时流式回调部分文本。
// 超时后写入 TimeoutReply（TimedOut=true），底层请求不会被取消，但其后续输出不再送达 sink。
func (s *Service) Ask(ctx context.Context, sessionID, userID, question string, sink llm.Sink) (*model.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	userMsg := &model.ChatMessage{
		SessionID: sessionID,
		UserID:    userID,
		Role:      model.ChatRoleUser,
		Content:   question,
	}
	if err := s.messages.Append(userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	s.publish(ctx, userMsg)

	msgs, err := s.buildMessages(ctx, session)
	if err != nil {
		return nil, err
	}

	type result struct {
		completion llm.Completion
		err        error
	}
	guard := &guardedSink{sink: sink}
	done := make(chan result, 1)
	start := time.Now()

	// 超时只影响等待方，请求本身在独立的 context 中继续执行
	callCtx := context.WithoutCancel(ctx)
	go func() {
		var streamSink llm.Sink
		if sink != nil {
			streamSink = guard.send
		}
		c, err := llm.Complete(callCtx, s.model, msgs, streamSink)
		done <- result{completion: c, err: err}
	}()

	var timeout <-chan time.Time
	if s.opts.Timeout > 0 {
		timer := time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		metrics.ChatDuration.Observe(time.Since(start).Seconds())
		if res.err != nil {
			klog.Errorf("[Chat] 问答调用失败: sessionID=%s, error=%v", sessionID, res.err)
			return nil, fmt.Errorf("chat completion: %w", res.err)
		}
		return s.reply(ctx, sessionID, userID, res.completion.Text, false)

	case <-timeout:
		guard.close()
		metrics.ChatTimeouts.Inc()
		klog.Warningf("[Chat] 问答超时，返回预设回复: sessionID=%s, timeout=%v", sessionID, s.opts.Timeout)
		go func() {
			res := <-done
			klog.V(6).Infof("[Chat] 超时请求已结束: sessionID=%s, error=%v, length=%d", sessionID, res.err, len(res.completion.Text))
		}()
		if sink != nil {
			sink(TimeoutReply, true)
		}
		return s.reply(ctx, sessionID, userID, TimeoutReply, true)

	case <-ctx.Done():
		guard.close()
		return nil, ctx.Err()
	}
}

func (s *Service) reply(ctx context.Context, sessionID, userID, text string, timedOut bool) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		SessionID: sessionID,
		UserID:    userID,
		Role:      model.ChatRoleAssistant,
		Content:   text,
		TimedOut:  timedOut,
	}
	if err := s.messages.Append(msg); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	s.publish(ctx, msg)
	return msg, nil
}

func (s *Service) session(sessionID string) (*model.DiagnosisSession, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	session.MigrateResponses()
	return session, nil
}

// buildMessages 系统消息（病例档案）加最近的问答记录，最后一条是本次问题
func (s *Service) buildMessages(ctx context.Context, session *model.DiagnosisSession) ([]*schema.Message, error) {
	system, err := s.prompts.ChatSystem(ctx, CaseFile(session))
	if err != nil {
		return nil, err
	}
	history, err := s.messages.Recent(session.ID, s.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, system)
	for _, m := range history {
		if m.TimedOut {
			continue
		}
		switch m.Role {
		case model.ChatRoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	return msgs, nil
}

type caseFile struct {
	Patient  domain.UserInput          `json:"patient"`
	Analyses map[string]map[string]any `json:"analyses,omitempty"`
	Summary  domain.RoleResponse       `json:"summary,omitempty"`
	Status   string                    `json:"status"`
}

// CaseFile 病例档案：患者信息、各阶段摘要以及总结阶段的完整输出
func CaseFile(session *model.DiagnosisSession) string {
	in := session.Input()
	in.ReportImageURL = ""
	cf := caseFile{
		Patient:  in,
		Analyses: make(map[string]map[string]any),
		Status:   session.Status,
	}
	for _, s := range domain.Stages() {
		stored, ok := session.Response(s)
		if !ok {
			continue
		}
		resp := domain.RoleResponse(domain.Migrate(s, stored))
		if s == domain.StageSummarizer {
			cf.Summary = resp
			continue
		}
		cf.Analyses[s.Key()] = resp.Digest()
	}
	return utils.ToPrettyJSON(cf)
}

func (s *Service) publish(ctx context.Context, msg *model.ChatMessage) {
	err := eventbus.PublishSession(ctx, s.bus, eventbus.SessionEvent{
		Type:      eventbus.EventChatMessage,
		SessionID: msg.SessionID,
		Text:      msg.Content,
		Role:      msg.Role,
	})
	if err != nil {
		klog.Warningf("[Chat] 发布事件失败: sessionID=%s, error=%v", msg.SessionID, err)
	}
}

// guardedSink 超时或取消后丢弃后续的流式输出
type guardedSink struct {
	mu     sync.Mutex
	sink   llm.Sink
	closed bool
}

func (g *guardedSink) send(partial string, done bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.sink == nil {
		return
	}
	g.sink(partial, done)
}

func (g *guardedSink) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
