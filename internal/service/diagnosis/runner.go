// Package diagnosis 实现诊断链的阶段执行器。
//
// 会话按固定顺序经过 8 个角色阶段，每个阶段读取患者信息与此前各阶段的摘要，
// 调用一次补全服务，用容错 JSON 提取得到结构化响应，写入会话并把 current_step 加一。
// 何时推进由调用方决定，执行器本身不做调度。
package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/eventbus"
	"github.com/dgeneration/radiance-ai/backend/internal/metrics"
	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/llm"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/tolerantjson"
	"github.com/dgeneration/radiance-ai/backend/internal/repository"
	"github.com/dgeneration/radiance-ai/backend/internal/service/statemachine"
	"github.com/dgeneration/radiance-ai/backend/internal/utils"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"k8s.io/klog/v2"
)

// Options 执行器配置
type Options struct {
	// StageTimeout 单个阶段调用的超时，0 表示不限制
	StageTimeout time.Duration
	// Stream 调用方未提供 sink 时是否仍以流式调用（增量通过事件总线发布）
	Stream bool
	// RawTextLimit 占位响应中保留原始文本的最大字符数
	RawTextLimit int
}

// Runner 诊断链阶段执行器
type Runner struct {
	sessions repository.SessionRepository
	runs     repository.StageRunRepository
	model    einomodel.BaseChatModel
	prompts  *domain.PromptCatalog
	bus      *eventbus.SessionEventBus
	sm       *statemachine.SessionStateMachine
	opts     Options

	inflight sync.Map // sessionID -> struct{}
}

func NewRunner(
	sessions repository.SessionRepository,
	runs repository.StageRunRepository,
	cm einomodel.BaseChatModel,
	prompts *domain.PromptCatalog,
	bus *eventbus.SessionEventBus,
	opts Options,
) *Runner {
	if prompts == nil {
		prompts = domain.DefaultPrompts()
	}
	if opts.RawTextLimit <= 0 {
		opts.RawTextLimit = tolerantjson.DefaultMaxRawLen
	}
	return &Runner{
		sessions: sessions,
		runs:     runs,
		model:    cm,
		prompts:  prompts,
		bus:      bus,
		sm:       statemachine.NewSessionStateMachine(),
		opts:     opts,
	}
}

// CreateSession 创建会话。没有报告文本和报告图片时跳过医学分析师阶段，会话直接从第 1 步开始。
func (r *Runner) CreateSession(ctx context.Context, userID string, input domain.UserInput) (*model.DiagnosisSession, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	step := int(domain.StageAnalyst)
	if !input.HasReport() {
		step = int(domain.StagePhysician)
	}

	session := &model.DiagnosisSession{
		ID:          uuid.NewString(),
		UserID:      userID,
		UserInput:   datatypes.NewJSONType(input),
		CurrentStep: step,
		Status:      model.SessionStatusInProgress,
		Responses:   datatypes.NewJSONType(model.Responses{}),
	}
	if err := r.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	klog.V(6).Infof("[Runner] 会话已创建: sessionID=%s, userID=%s, startStep=%d", session.ID, userID, step)
	return session, nil
}

// Get 读取会话，旧版本的阶段响应会迁移到当前结构
func (r *Runner) Get(ctx context.Context, sessionID string) (*model.DiagnosisSession, error) {
	session, err := r.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	session.MigrateResponses()
	return session, nil
}

// ListByUser 列出用户的会话，按创建时间倒序
func (r *Runner) ListByUser(ctx context.Context, userID string, limit int) ([]model.DiagnosisSession, error) {
	sessions, err := r.sessions.ListByUser(userID, limit)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].MigrateResponses()
	}
	return sessions, nil
}

// Runs 返回会话的阶段执行记录
func (r *Runner) Runs(ctx context.Context, sessionID string) ([]model.StageRun, error) {
	if _, err := r.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.runs.ListBySession(sessionID)
}

// RunNext 执行会话的当前阶段
func (r *Runner) RunNext(ctx context.Context, sessionID string, sink llm.Sink) (domain.Stage, domain.RoleResponse, error) {
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return 0, nil, err
	}
	if session.IsCompleted() || session.CurrentStep >= domain.StageCount {
		return 0, nil, ErrSessionCompleted
	}
	stage := domain.Stage(session.CurrentStep)
	resp, err := r.RunStage(ctx, sessionID, stage, sink)
	return stage, resp, err
}

// RunRemaining 依次执行剩余的全部阶段，遇到错误立即停止
func (r *Runner) RunRemaining(ctx context.Context, sessionID string) (*model.DiagnosisSession, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stage, _, err := r.RunNext(ctx, sessionID, nil)
		if errors.Is(err, ErrSessionCompleted) {
			break
		}
		if err != nil {
			return nil, err
		}
		klog.V(6).Infof("[Runner] 阶段完成: sessionID=%s, stage=%s", sessionID, stage.Key())
	}
	return r.Get(ctx, sessionID)
}

// RunStage 执行指定阶段。stage 必须等于会话的 current_step 且该阶段尚无响应。
// sink 非 nil 时以流式调用，每收到一个分块回调一次，结束时以 done=true 回调完整文本。
func (r *Runner) RunStage(ctx context.Context, sessionID string, stage domain.Stage, sink llm.Sink) (domain.RoleResponse, error) {
	def, ok := domain.DefinitionOf(stage)
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownStage, int(stage))
	}

	if _, busy := r.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil, ErrStageInFlight
	}
	defer r.inflight.Delete(sessionID)

	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted() {
		return nil, ErrSessionCompleted
	}
	if session.CurrentStep != int(stage) {
		return nil, fmt.Errorf("%w: requested %s, current step is %d", ErrStageOutOfOrder, stage.Key(), session.CurrentStep)
	}
	if _, done := session.Response(stage); done {
		return nil, fmt.Errorf("%w: %s already has a response", ErrStageOutOfOrder, stage.Key())
	}

	// 路由字段必须在任何写入之前检查
	specialist := ""
	if def.RequiresRouting {
		physician, _ := session.Response(domain.StagePhysician)
		v, ok := physician.RoutingValue()
		if !ok {
			klog.Warningf("[Runner] 缺少专科类型: sessionID=%s", sessionID)
			return nil, ErrMissingSpecialistType
		}
		specialist = v
	}

	if statemachine.SessionStatus(session.Status) == statemachine.SessionStatusError {
		if err := r.sm.Transition(statemachine.SessionStatusError, statemachine.SessionStatusInProgress, sessionID); err != nil {
			return nil, err
		}
		if err := r.sessions.TransitionStatus(sessionID, model.SessionStatusError, model.SessionStatusInProgress); err != nil {
			return nil, fmt.Errorf("reset session status: %w", err)
		}
		session.Status = model.SessionStatusInProgress
		session.ErrorMessage = ""
	}

	msgs, err := r.buildMessages(ctx, session, def, specialist)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, eventbus.SessionEvent{
		Type:        eventbus.EventStageStarted,
		SessionID:   sessionID,
		Stage:       int(stage),
		StageKey:    stage.Key(),
		CurrentStep: session.CurrentStep,
		Status:      session.Status,
	})

	callCtx := ctx
	if r.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := llm.Complete(callCtx, r.model, msgs, r.streamSink(ctx, sessionID, stage, sink))
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(stage.Key()).Observe(elapsed.Seconds())

	if err != nil {
		return nil, r.fail(ctx, session, stage, err, elapsed)
	}
	if (sink != nil || r.opts.Stream) && !completion.Streamed {
		metrics.StreamFallbacks.Inc()
	}

	result := tolerantjson.Parse(completion.Text, tolerantjson.Options{
		Markdown:    def.Markdown,
		Placeholder: def.Schema.Placeholder,
		MaxRawLen:   r.opts.RawTextLimit,
	})
	metrics.ExtractionStrategy.WithLabelValues(stage.Key(), string(result.Strategy)).Inc()
	resp := def.Schema.FillDefaults(domain.Migrate(stage, result.Object))
	klog.V(8).Infof("[Runner] 解析结果: sessionID=%s, stage=%s, response=%s", sessionID, stage.Key(), utils.ToJSON(resp))

	responses := make(model.Responses, len(session.Responses.Data())+1)
	for k, v := range session.Responses.Data() {
		responses[k] = v
	}
	responses[stage.Key()] = resp

	nextStep := int(stage) + 1
	status := statemachine.StatusAfterStage(nextStep, domain.StageCount)
	if status == statemachine.SessionStatusCompleted {
		if err := r.sm.Transition(statemachine.SessionStatusInProgress, status, sessionID); err != nil {
			return nil, err
		}
	}

	if err := r.sessions.CompleteStage(sessionID, int(stage), responses, string(status)); err != nil {
		if errors.Is(err, repository.ErrStaleStep) {
			return nil, fmt.Errorf("%w: %s was completed concurrently", ErrStageOutOfOrder, stage.Key())
		}
		return nil, fmt.Errorf("save stage response: %w", err)
	}

	r.recordRun(&model.StageRun{
		SessionID:  sessionID,
		Stage:      int(stage),
		StageKey:   stage.Key(),
		RawText:    completion.Text,
		Strategy:   string(result.Strategy),
		Streamed:   completion.Streamed,
		Succeeded:  true,
		DurationMs: elapsed.Milliseconds(),
	})

	if status == statemachine.SessionStatusCompleted {
		metrics.SessionsCompleted.Inc()
	}
	klog.V(6).Infof("[Runner] 阶段响应已保存: sessionID=%s, stage=%s, strategy=%s, step=%d->%d, status=%s",
		sessionID, stage.Key(), result.Strategy, stage, nextStep, status)

	r.publish(ctx, eventbus.SessionEvent{
		Type:        eventbus.EventStageCompleted,
		SessionID:   sessionID,
		Stage:       int(stage),
		StageKey:    stage.Key(),
		CurrentStep: nextStep,
		Status:      string(status),
	})
	return resp, nil
}

// fail 记录传输错误：会话标记为 error，current_step 不变
func (r *Runner) fail(ctx context.Context, session *model.DiagnosisSession, stage domain.Stage, cause error, elapsed time.Duration) error {
	sessionID := session.ID
	klog.Errorf("[Runner] 阶段调用失败: sessionID=%s, stage=%s, error=%v", sessionID, stage.Key(), cause)
	metrics.StageErrors.WithLabelValues(stage.Key(), errorType(cause)).Inc()

	if err := r.sm.Transition(statemachine.SessionStatus(session.Status), statemachine.SessionStatusError, sessionID); err != nil {
		klog.Warningf("[Runner] %v", err)
	}
	if err := r.sessions.MarkError(sessionID, int(stage), cause.Error()); err != nil {
		klog.Errorf("[Runner] 写入错误状态失败: sessionID=%s, error=%v", sessionID, err)
	}
	r.recordRun(&model.StageRun{
		SessionID:  sessionID,
		Stage:      int(stage),
		StageKey:   stage.Key(),
		ErrorMsg:   cause.Error(),
		DurationMs: elapsed.Milliseconds(),
	})
	// 失败事件在调用方取消后仍需送达订阅者，发布时不继承取消信号
	r.publish(context.WithoutCancel(ctx), eventbus.SessionEvent{
		Type:        eventbus.EventStageFailed,
		SessionID:   sessionID,
		Stage:       int(stage),
		StageKey:    stage.Key(),
		CurrentStep: int(stage),
		Status:      model.SessionStatusError,
		Error:       cause.Error(),
	})
	return &StageError{SessionID: sessionID, Stage: stage, Err: cause}
}

// streamSink 组合调用方的 sink 与事件总线；既没有 sink 也未开启流式时返回 nil
func (r *Runner) streamSink(ctx context.Context, sessionID string, stage domain.Stage, sink llm.Sink) llm.Sink {
	if sink == nil && !r.opts.Stream {
		return nil
	}
	return func(partial string, done bool) {
		if sink != nil {
			sink(partial, done)
		}
		if done {
			return
		}
		r.publish(ctx, eventbus.SessionEvent{
			Type:        eventbus.EventStageDelta,
			SessionID:   sessionID,
			Stage:       int(stage),
			StageKey:    stage.Key(),
			CurrentStep: int(stage),
			Text:        partial,
		})
	}
}

func (r *Runner) recordRun(run *model.StageRun) {
	if err := r.runs.Create(run); err != nil {
		klog.Warningf("[Runner] 写入阶段执行记录失败: sessionID=%s, stage=%s, error=%v", run.SessionID, run.StageKey, err)
	}
}

func (r *Runner) publish(ctx context.Context, event eventbus.SessionEvent) {
	if err := eventbus.PublishSession(ctx, r.bus, event); err != nil {
		klog.Warningf("[Runner] 发布事件失败: type=%s, sessionID=%s, error=%v", event.Type, event.SessionID, err)
	}
}
