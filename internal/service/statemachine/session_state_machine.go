package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// SessionStatus 诊断会话的状态
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress" // 进行中（初始态）
	SessionStatusCompleted  SessionStatus = "completed"   // 全部阶段完成（终止态）
	SessionStatusError      SessionStatus = "error"       // 阶段调用失败，可重试
)

// SessionTransition 定义会话状态迁移
type SessionTransition struct {
	From SessionStatus
	To   SessionStatus
}

// SessionStateMachine 会话状态机
type SessionStateMachine struct {
	allowedTransitions map[SessionTransition]bool
}

// NewSessionStateMachine 创建新的会话状态机
func NewSessionStateMachine() *SessionStateMachine {
	sm := &SessionStateMachine{
		allowedTransitions: make(map[SessionTransition]bool),
	}

	// in_progress -> completed（最后一个阶段成功）
	// in_progress -> error（补全服务调用失败）
	// error -> in_progress（调用方重试同一阶段）
	transitions := []SessionTransition{
		{SessionStatusInProgress, SessionStatusCompleted},
		{SessionStatusInProgress, SessionStatusError},
		{SessionStatusError, SessionStatusInProgress},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *SessionStateMachine) CanTransition(from, to SessionStatus) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[SessionTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *SessionStateMachine) ValidateTransition(from, to SessionStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *SessionStateMachine) Transition(from, to SessionStatus, sessionID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("会话状态迁移被拒绝: sessionID=%s, %s -> %s, error=%v", sessionID, from, to, err)
		return err
	}

	klog.V(6).Infof("会话状态迁移成功: sessionID=%s, %s -> %s", sessionID, from, to)
	return nil
}

// StatusAfterStage 阶段成功后的状态：最后一个阶段完成时为 completed，否则保持 in_progress
func StatusAfterStage(nextStep, totalSteps int) SessionStatus {
	if nextStep >= totalSteps {
		return SessionStatusCompleted
	}
	return SessionStatusInProgress
}

// InvalidStateTransitionError 无效的状态迁移错误
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s", e.From, e.To)
}

// IsTerminal 判断状态是否为终止态
func IsTerminal(status SessionStatus) bool {
	return status == SessionStatusCompleted
}
