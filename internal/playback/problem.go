package playback

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aiwuxian/codelove/internal/models"
)

// ErrSubmission 评测请求失败
var ErrSubmission = errors.New("代码提交失败")

// FallbackLanguageID 没有任何角色声明语言时使用
const FallbackLanguageID = models.LanguagePython

const (
	conditionPass = "pass"
	conditionFail = "fail"
)

// ProblemHandler 编程题节点的进入、提交与结果
type ProblemHandler struct {
	targets TargetResolver

	overlayVisible     bool
	current            *models.Problem
	draft              string
	draftFor           string
	advancementAllowed bool
	locked             bool
	lockedPos          int
	submitting         bool
	lastResult         *models.SubmissionResult
	lastErr            error
	deferred           *Decision
}

func NewProblemHandler(targets TargetResolver) *ProblemHandler {
	return &ProblemHandler{targets: targets, advancementAllowed: true}
}

// Enter 当前节点变成 problem 时调用；找不到题目则放行
func (h *ProblemHandler) Enter(node models.ScriptNode, pos int, problems []models.Problem) bool {
	h.lastErr = nil
	found := findProblem(node.Meta.ProblemID, problems)
	if found == nil {
		h.current = nil
		h.overlayVisible = false
		h.advancementAllowed = true
		h.locked = false
		return false
	}

	p := *found
	if p.ID != h.draftFor {
		h.draft = ""
		h.draftFor = p.ID
	}
	h.current = &p
	h.overlayVisible = true
	h.advancementAllowed = false
	h.locked = true
	h.lockedPos = pos
	return true
}

// Hold 题目列表还没到，先锁住当前节点，等元信息到达后再 Enter
func (h *ProblemHandler) Hold(pos int) {
	h.current = nil
	h.overlayVisible = false
	h.advancementAllowed = false
	h.locked = true
	h.lockedPos = pos
}

// Exit 离开 problem 节点
func (h *ProblemHandler) Exit() {
	h.overlayVisible = false
	h.current = nil
	h.locked = false
	h.advancementAllowed = true
	h.submitting = false
	h.lastErr = nil
}

// Reset 切换故事时清空全部状态
func (h *ProblemHandler) Reset() {
	h.Exit()
	h.draft = ""
	h.draftFor = ""
	h.lastResult = nil
	h.deferred = nil
}

// Close 玩家主动关闭代码窗口，不提交就不能前进
func (h *ProblemHandler) Close() {
	h.overlayVisible = false
	h.advancementAllowed = false
}

func (h *ProblemHandler) Reopen() {
	if h.current != nil {
		h.overlayVisible = true
	}
}

// Blocked 停在锁定的 problem 节点上
func (h *ProblemHandler) Blocked(pos int) bool {
	return !h.advancementAllowed || (h.locked && h.lockedPos == pos)
}

func (h *ProblemHandler) AdvancementAllowed() bool { return h.advancementAllowed }
func (h *ProblemHandler) OverlayVisible() bool { return h.overlayVisible }
func (h *ProblemHandler) Current() *models.Problem { return h.current }
func (h *ProblemHandler) Draft() string { return h.draft }
func (h *ProblemHandler) SetDraft(code string) { h.draft = code }
func (h *ProblemHandler) Submitting() bool { return h.submitting }
func (h *ProblemHandler) ShowingResult() bool { return h.lastResult != nil }
func (h *ProblemHandler) LastResult() *models.SubmissionResult { return h.lastResult }
func (h *ProblemHandler) LastError() error { return h.lastErr }

// LockedPosition 锁定的数组位置
func (h *ProblemHandler) LockedPosition() (int, bool) {
	return h.lockedPos, h.locked
}

// BeginSubmit 组装提交请求
func (h *ProblemHandler) BeginSubmit(storyID models.StoryID, node models.ScriptNode, code string, languageOverride int, heroines []models.Heroine) (models.SubmissionRequest, error) {
	if h.current == nil {
		return models.SubmissionRequest{}, errors.New("当前没有编程题")
	}
	if h.submitting {
		return models.SubmissionRequest{}, errors.New("正在提交中")
	}
	if h.lastResult != nil {
		return models.SubmissionRequest{}, errors.New("请先关闭评测结果")
	}
	if code == "" {
		code = h.draft
	}
	h.draft = code
	h.submitting = true
	h.lastErr = nil

	return models.SubmissionRequest{
		StoryID:    storyID,
		NodeIndex:  node.Index,
		ProblemID:  h.current.ID,
		SourceCode: NormalizeSource(code),
		LanguageID: ChooseLanguage(languageOverride, node.Speaker, heroines),
	}, nil
}

// ApplyResult 评测成功：解锁并计算延迟跳转，关闭结果时才执行
func (h *ProblemHandler) ApplyResult(result *models.SubmissionResult, script *Script, pos int) {
	h.submitting = false
	h.lastResult = result
	h.lastErr = nil
	h.locked = false
	h.advancementAllowed = true
	h.overlayVisible = false

	outcome := conditionFail
	if result.Passed {
		outcome = conditionPass
	}

	node, _ := script.Node(pos)
	d := Decision{Kind: DecideSequential, Condition: outcome}
	if node.Meta.SubmitTarget != nil {
		if target, err := h.targets.ResolveIn(script, node.Meta.SubmitTarget); err == nil {
			d = Decision{Kind: DecideGoto, Position: target, Condition: outcome}
		} else {
			d.Err = err
		}
	}
	if d.Kind == DecideSequential {
		if target, found := script.ScanCondition(pos, outcome); found {
			d = Decision{Kind: DecideGoto, Position: target, Condition: outcome}
		}
	}
	h.deferred = &d
}

// ApplyFailure 评测请求失败：保持锁定，玩家重试
func (h *ProblemHandler) ApplyFailure(err error) {
	h.submitting = false
	h.lastErr = fmt.Errorf("%w: %w", ErrSubmission, err)
}

// Dismiss 关闭结果，返回保留的跳转
func (h *ProblemHandler) Dismiss() (Decision, bool) {
	if h.lastResult == nil {
		return Decision{}, false
	}
	h.lastResult = nil
	d := h.deferred
	h.deferred = nil
	if d == nil {
		return Decision{Kind: DecideSequential}, true
	}
	return *d, true
}

// ChooseLanguage 显式指定 > 说话角色 > 故事第一个角色 > Python
func ChooseLanguage(override int, speaker string, heroines []models.Heroine) int {
	if override > 0 {
		return override
	}
	if speaker != "" {
		for _, h := range heroines {
			if h.Name == speaker {
				if id, ok := LanguageOf(h); ok {
					return id
				}
				break
			}
		}
	}
	if len(heroines) > 0 {
		if id, ok := LanguageOf(heroines[0]); ok {
			return id
		}
	}
	return FallbackLanguageID
}

// LanguageOf 角色声明的语言
func LanguageOf(h models.Heroine) (int, bool) {
	if h.LanguageID > 0 {
		return h.LanguageID, true
	}
	lang := strings.ToLower(strings.TrimSpace(h.Language))
	switch {
	case lang == "":
		return 0, false
	case strings.Contains(lang, "python"):
		return models.LanguagePython, true
	case strings.Contains(lang, "java"):
		return models.LanguageJava, true
	case lang == "c":
		return models.LanguageC, true
	}
	return 0, false
}

// NormalizeSource 统一换行，评测机对 \r 敏感
func NormalizeSource(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	return strings.ReplaceAll(code, "\r", "\n")
}

func findProblem(id string, problems []models.Problem) *models.Problem {
	if id == "" {
		return nil
	}
	for i := range problems {
		if problems[i].ID == id {
			return &problems[i]
		}
	}
	return nil
}
