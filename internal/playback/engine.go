package playback

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
)

const (
	DefaultIllustration   = 3 * time.Second
	DefaultEndingDelay    = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second

	EndMessage = "— 完 —"
)

// 玩家可见的提示
const (
	NoticeSubmitRequired = "必须提交代码才能继续。"
	NoticeBlocked        = "现在还不能继续。"
	NoticeAuthRequired   = "登录已失效，请重新登录。"
	NoticeSubmitFailed   = "提交失败，请稍后重试。"
)

// MetaSource 故事元信息
type MetaSource interface {
	StoryMeta(ctx context.Context, storyID models.StoryID) (*models.StoryMeta, error)
}

// ChoiceAdjudicator 服务器裁决选项
type ChoiceAdjudicator interface {
	SelectChoice(ctx context.Context, req models.ChoiceRequest) (*models.ChoiceDecision, error)
}

// Grader 代码评测
type Grader interface {
	SubmitCode(ctx context.Context, req models.SubmissionRequest) (*models.SubmissionResult, error)
}

// EndingResolver 按好感度选择结局故事
type EndingResolver interface {
	ResolveEnding(ctx context.Context, storyID models.StoryID) (models.StoryID, error)
}

// Backend 引擎依赖的全部远端接口
type Backend interface {
	ScriptSource
	MetaSource
	ChoiceAdjudicator
	Grader
	EndingResolver
}

// Options 引擎配置，零值字段使用默认值
type Options struct {
	Clock  Clock
	Runner Runner
	Logger *zap.Logger

	TypingInterval      time.Duration
	CharsPerTick        int
	IllustrationDefault time.Duration
	EndingDelay         time.Duration
	RequestTimeout      time.Duration
	BlockFallback       bool

	OnHome   func()
	OnNotice func(string)
	OnChange func(View)
}

// Phase 引擎当前所处的状态
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRevealing
	PhaseAwaitingChoice
	PhaseAwaitingProblemSubmission
	PhaseShowingResult
	PhaseIllustrating
	PhaseEnding
	PhaseLoading
)

func (p Phase) String() string {
	switch p {
	case PhaseRevealing:
		return "revealing"
	case PhaseAwaitingChoice:
		return "awaiting_choice"
	case PhaseAwaitingProblemSubmission:
		return "awaiting_problem_submission"
	case PhaseShowingResult:
		return "showing_result"
	case PhaseIllustrating:
		return "illustrating"
	case PhaseEnding:
		return "ending"
	case PhaseLoading:
		return "loading"
	}
	return "idle"
}

// nodeKey 一次加载中的某个节点
type nodeKey struct {
	gen   uint64
	index int
	set   bool
}

type illustration struct {
	active bool
	image  string
	timer  Timer
	gen    uint64
}

type ending struct {
	active  bool
	message string
	key     nodeKey
	timer   Timer
	gen     uint64
	fired   bool
}

// effects 在锁外执行的副作用
type effects struct {
	jobs    []func()
	calls   []func()
	notices []string
}

// Engine 剧情推进状态机。所有状态变化都在 do 里串行执行，
// 定时器和网络回调也通过 do 回到同一条时间线
type Engine struct {
	backend Backend
	opts    Options
	clock   Clock
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	seq    uint64
	fx     effects

	store      *ScriptStore
	ticket     LoadTicket
	script     *Script
	storyID    models.StoryID
	meta       *models.StoryMeta
	metaLoaded bool
	loading    bool

	pos             int
	activeCondition string
	suppressNext    bool
	choicePending   bool

	typewriter *Typewriter
	choices    *ChoiceResolver
	problem    *ProblemHandler
	illust     illustration
	end        ending

	endingRequested nodeKey
	storyEndFired   nodeKey

	heroineAppeared bool
	likes           map[string]int
}

func New(backend Backend, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Runner == nil {
		opts.Runner = goRunner
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CharsPerTick <= 0 {
		opts.CharsPerTick = 1
	}
	if opts.IllustrationDefault <= 0 {
		opts.IllustrationDefault = DefaultIllustration
	}
	if opts.EndingDelay <= 0 {
		opts.EndingDelay = DefaultEndingDelay
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	targets := TargetResolver{BlockFallback: opts.BlockFallback}
	e := &Engine{
		backend: backend,
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger.Named("engine"),
		store:   NewScriptStore(backend),
		choices: NewChoiceResolver(targets),
		problem: NewProblemHandler(targets),
		likes:   make(map[string]int),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.script = NewScript("", nil)
	e.typewriter = NewTypewriter(engineClock{e}, opts.TypingInterval)
	return e
}

// engineClock 让打字机的 tick 也走 do
type engineClock struct{ e *Engine }

func (c engineClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.e.after(d, f)
}

func (e *Engine) after(d time.Duration, f func()) Timer {
	return e.clock.AfterFunc(d, func() { e.do(f) })
}

// do 在锁内执行一次状态转移，锁外投递提示、回调和异步任务
func (e *Engine) do(fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	fn()
	fx := e.fx
	e.fx = effects{}
	e.seq++
	var view View
	notify := e.opts.OnChange != nil
	if notify {
		view = e.viewLocked()
	}
	e.mu.Unlock()

	if e.opts.OnNotice != nil {
		for _, n := range fx.notices {
			e.opts.OnNotice(n)
		}
	}
	for _, call := range fx.calls {
		call()
	}
	if notify {
		e.opts.OnChange(view)
	}
	for _, job := range fx.jobs {
		e.opts.Runner(job)
	}
}

// spawn 发起网络请求，返回的闭包在 do 里执行
func (e *Engine) spawn(job func(ctx context.Context) func()) {
	timeout := e.opts.RequestTimeout
	e.fx.jobs = append(e.fx.jobs, func() {
		ctx, cancel := context.WithTimeout(e.ctx, timeout)
		apply := job(ctx)
		cancel()
		if apply != nil {
			e.do(apply)
		}
	})
}

func (e *Engine) noticeLocked(msg string) {
	e.fx.notices = append(e.fx.notices, msg)
}

// Start 从头开始一个故事
func (e *Engine) Start(storyID models.StoryID) {
	e.do(func() { e.switchStoryLocked(storyID, nil) })
}

// Resume 读档：重新加载故事并跳到 nodeIndex 对应的位置
func (e *Engine) Resume(storyID models.StoryID, nodeIndex int) {
	e.do(func() {
		idx := nodeIndex
		e.switchStoryLocked(storyID, &idx)
	})
}

// Advance 处理一次推进输入，守卫顺序固定
func (e *Engine) Advance() {
	e.do(e.advanceLocked)
}

func (e *Engine) advanceLocked() {
	node, ok := e.script.Node(e.pos)
	if !ok || e.loading {
		return
	}
	if e.illust.active || e.problem.ShowingResult() || e.end.active || e.choicePending {
		return
	}
	if e.suppressNext {
		e.suppressNext = false
		return
	}
	if node.Type == models.NodeProblem && e.problem.Blocked(e.pos) {
		if !e.problem.OverlayVisible() && e.problem.Current() != nil {
			e.problem.Reopen()
			return
		}
		e.noticeLocked(NoticeSubmitRequired)
		return
	}
	if !e.problem.AdvancementAllowed() {
		e.noticeLocked(NoticeBlocked)
		return
	}
	if node.Type == models.NodeChoice && len(node.Choices) > 0 {
		e.choices.Open()
		return
	}
	if e.typewriter.Revealing() {
		e.typewriter.Skip()
		return
	}
	e.advanceSequentialLocked()
}

// advanceSequentialLocked 顺序前进，跳过与 active condition 不符的条件节点
func (e *Engine) advanceSequentialLocked() {
	last := e.script.Len() - 1
	if last < 0 {
		return
	}
	next := min(e.pos+1, last)
	for next < last {
		n, _ := e.script.Node(next)
		if n.Meta.Condition == "" || n.Meta.Condition == e.activeCondition {
			break
		}
		next++
	}
	e.moveToLocked(next)
}

func (e *Engine) moveToLocked(pos int) {
	if pos == e.pos {
		return
	}
	e.pos = pos
	e.enterNodeLocked()
}

// enterNodeLocked 进入节点时的副作用
func (e *Engine) enterNodeLocked() {
	node, ok := e.script.Node(e.pos)
	if !ok {
		return
	}
	e.choices.Close()
	e.suppressNext = false
	if node.Meta.Condition == "" {
		e.activeCondition = ""
	}
	if node.Type != models.NodeIllust {
		e.stopIllustrationLocked()
	}
	if node.Type != models.NodeProblem {
		e.problem.Exit()
	}
	e.detectPresenceLocked(node)

	switch node.Type {
	case models.NodeProblem:
		e.typewriter.Start(node.Text, e.opts.CharsPerTick)
		e.enterProblemLocked(node)
	case models.NodeIllust:
		e.typewriter.Clear()
		e.startIllustrationLocked(node)
	case models.NodeEnd:
		e.typewriter.Clear()
		e.startEndLocked(node)
	case models.NodeEnding:
		e.typewriter.Start(node.Text, e.opts.CharsPerTick)
		e.requestEndingLocked(node)
	case models.NodeStoryEnd:
		e.typewriter.Clear()
		e.storyEndLocked(node)
	default:
		e.typewriter.Start(node.Text, e.opts.CharsPerTick)
	}
}

func (e *Engine) enterProblemLocked(node models.ScriptNode) {
	if !e.metaLoaded {
		e.problem.Hold(e.pos)
		return
	}
	var problems []models.Problem
	if e.meta != nil {
		problems = e.meta.Problems
	}
	if !e.problem.Enter(node, e.pos, problems) {
		e.log.Warn("题目不存在，放行",
			zap.String("story_id", string(e.storyID)),
			zap.Int("index", node.Index),
			zap.String("problem_id", node.Meta.ProblemID))
	}
}

func (e *Engine) detectPresenceLocked(node models.ScriptNode) {
	if e.heroineAppeared || node.Speaker == "" || e.meta == nil {
		return
	}
	for _, h := range e.meta.Heroines {
		if h.Name == node.Speaker {
			e.heroineAppeared = true
			return
		}
	}
}

func (e *Engine) startIllustrationLocked(node models.ScriptNode) {
	e.stopIllustrationLocked()
	d := e.opts.IllustrationDefault
	if node.Meta.Duration > 0 {
		d = time.Duration(node.Meta.Duration * float64(time.Second))
	}
	e.illust.active = true
	e.illust.image = node.Meta.Image
	gen := e.illust.gen
	e.illust.timer = e.after(d, func() {
		if gen != e.illust.gen || !e.illust.active {
			return
		}
		e.illust.active = false
		e.illust.image = ""
		e.illust.timer = nil
		e.advanceSequentialLocked()
	})
}

func (e *Engine) stopIllustrationLocked() {
	e.illust.gen++
	if e.illust.timer != nil {
		e.illust.timer.Stop()
		e.illust.timer = nil
	}
	e.illust.active = false
	e.illust.image = ""
}

// startEndLocked 同一节点重复进入不会重启计时
func (e *Engine) startEndLocked(node models.ScriptNode) {
	key := nodeKey{gen: e.ticket.gen, index: node.Index, set: true}
	if e.end.active && e.end.key == key {
		return
	}
	e.stopEndLocked()
	e.choices.Close()
	e.problem.Exit()

	e.end.active = true
	e.end.key = key
	e.end.fired = false
	e.end.message = node.Text
	if e.end.message == "" {
		e.end.message = EndMessage
	}
	gen := e.end.gen
	e.end.timer = e.after(e.opts.EndingDelay, func() {
		if gen != e.end.gen || e.end.fired {
			return
		}
		e.end.fired = true
		e.end.timer = nil
		if e.opts.OnHome != nil {
			e.fx.calls = append(e.fx.calls, e.opts.OnHome)
		}
	})
}

func (e *Engine) stopEndLocked() {
	e.end.gen++
	if e.end.timer != nil {
		e.end.timer.Stop()
		e.end.timer = nil
	}
	e.end.active = false
	e.end.message = ""
	e.end.key = nodeKey{}
}

func (e *Engine) requestEndingLocked(node models.ScriptNode) {
	key := nodeKey{gen: e.ticket.gen, index: node.Index, set: true}
	if e.endingRequested == key {
		return
	}
	e.endingRequested = key

	ticket := e.ticket
	storyID := e.storyID
	e.spawn(func(ctx context.Context) func() {
		next, err := e.backend.ResolveEnding(ctx, storyID)
		return func() {
			if e.ticket != ticket {
				return
			}
			if err != nil || next == "" {
				e.log.Warn("结局分支解析失败",
					zap.String("story_id", string(storyID)),
					zap.Error(err))
				return
			}
			e.log.Info("进入结局", zap.String("story_id", string(next)))
			e.switchStoryLocked(next, nil)
		}
	})
}

func (e *Engine) storyEndLocked(node models.ScriptNode) {
	key := nodeKey{gen: e.ticket.gen, index: node.Index, set: true}
	if e.storyEndFired == key {
		return
	}
	e.storyEndFired = key

	next := node.Meta.NextStoryCode
	if next == "" {
		e.log.Warn("storyEnd 节点缺少 nextStoryCode",
			zap.String("story_id", string(e.storyID)),
			zap.Int("index", node.Index))
		return
	}
	e.switchStoryLocked(next, nil)
}

// switchStoryLocked 切换故事，之前的加载和请求全部作废
func (e *Engine) switchStoryLocked(storyID models.StoryID, resume *int) {
	e.stopIllustrationLocked()
	e.stopEndLocked()
	e.typewriter.Clear()
	e.choices.Close()
	e.problem.Reset()

	e.storyID = storyID
	e.script = NewScript(storyID, nil)
	e.meta = nil
	e.metaLoaded = false
	e.pos = 0
	e.activeCondition = ""
	e.suppressNext = false
	e.choicePending = false
	e.heroineAppeared = false
	e.loading = true

	ticket := e.store.Begin(storyID)
	e.ticket = ticket
	e.log.Debug("加载故事", zap.String("story_id", string(storyID)))

	e.spawn(func(ctx context.Context) func() {
		script, err := e.store.Fetch(ctx, ticket)
		return func() { e.applyScriptLocked(ticket, script, err, resume) }
	})
	e.spawn(func(ctx context.Context) func() {
		meta, err := e.backend.StoryMeta(ctx, storyID)
		return func() { e.applyMetaLocked(ticket, meta, err) }
	})
}

func (e *Engine) applyScriptLocked(ticket LoadTicket, script *Script, err error, resume *int) {
	if e.ticket != ticket || !e.store.Commit(ticket, script) {
		e.log.Debug("丢弃过期的剧本", zap.String("story_id", string(ticket.StoryID)))
		return
	}
	e.loading = false
	if err != nil {
		e.log.Warn("剧本加载失败",
			zap.String("story_id", string(ticket.StoryID)),
			zap.Error(err))
	}
	e.script = script
	if script.Len() == 0 {
		return
	}

	pos := script.FirstDisplayable()
	if resume != nil {
		if p, ok := script.Position(*resume); ok {
			pos = p
		} else {
			e.log.Warn("存档节点不存在，从头开始",
				zap.String("story_id", string(ticket.StoryID)),
				zap.Int("index", *resume))
		}
	}
	e.pos = -1
	e.moveToLocked(pos)
}

func (e *Engine) applyMetaLocked(ticket LoadTicket, meta *models.StoryMeta, err error) {
	if e.ticket != ticket {
		e.log.Debug("丢弃过期的故事信息", zap.String("story_id", string(ticket.StoryID)))
		return
	}
	e.metaLoaded = true
	if err != nil || meta == nil {
		e.log.Warn("故事信息加载失败",
			zap.String("story_id", string(ticket.StoryID)),
			zap.Error(err))
		meta = &models.StoryMeta{ID: ticket.StoryID}
	}
	e.meta = meta

	node, ok := e.script.Node(e.pos)
	if !ok || e.loading {
		return
	}
	e.detectPresenceLocked(node)
	if node.Type == models.NodeProblem && e.problem.Current() == nil && !e.problem.ShowingResult() {
		e.enterProblemLocked(node)
	}
}

// SelectChoice 玩家选择第 i 个选项
func (e *Engine) SelectChoice(i int) {
	e.do(func() {
		node, ok := e.script.Node(e.pos)
		if !ok || node.Type != models.NodeChoice || !e.choices.Visible() || e.choicePending {
			return
		}
		e.applyDecisionLocked(e.choices.Select(e.storyID, e.script, e.pos, i))
	})
}

func (e *Engine) applyDecisionLocked(d Decision) {
	if d.Err != nil {
		e.log.Debug("回退为顺序前进",
			zap.Stringer("kind", d.Kind),
			zap.Error(d.Err))
	}
	switch d.Kind {
	case DecideGoto:
		e.activeCondition = d.Condition
		e.moveToLocked(d.Position)
	case DecideBranch:
		e.switchStoryLocked(d.StoryID, nil)
	case DecideServer:
		e.adjudicateLocked(*d.Request)
	default:
		e.activeCondition = d.Condition
		e.advanceSequentialLocked()
	}
}

func (e *Engine) adjudicateLocked(req models.ChoiceRequest) {
	e.choicePending = true
	ticket, pos := e.ticket, e.pos
	e.spawn(func(ctx context.Context) func() {
		resp, err := e.backend.SelectChoice(ctx, req)
		return func() {
			if e.ticket != ticket {
				return
			}
			e.choicePending = false
			if e.pos != pos {
				return
			}
			if errors.Is(err, models.ErrAuthRequired) {
				e.noticeLocked(NoticeAuthRequired)
			}
			if err == nil && resp != nil && resp.LikeValue != nil && req.Choice.HeroineName != "" {
				e.likes[req.Choice.HeroineName] = *resp.LikeValue
			}
			e.applyDecisionLocked(e.choices.Adjudicate(e.script, e.pos, req, resp, err))
		}
	})
}

// SetDraft 保存编辑中的代码
func (e *Engine) SetDraft(code string) {
	e.do(func() { e.problem.SetDraft(code) })
}

// Submit 提交代码，languageOverride<=0 时自动选择语言
func (e *Engine) Submit(code string, languageOverride int) {
	e.do(func() {
		node, ok := e.script.Node(e.pos)
		if !ok || node.Type != models.NodeProblem {
			return
		}
		req, err := e.problem.BeginSubmit(e.storyID, node, code, languageOverride, e.heroinesLocked())
		if err != nil {
			e.noticeLocked(err.Error())
			return
		}
		ticket, pos := e.ticket, e.pos
		e.spawn(func(ctx context.Context) func() {
			res, err := e.backend.SubmitCode(ctx, req)
			return func() {
				if e.ticket != ticket || e.pos != pos {
					e.log.Debug("丢弃过期的评测结果", zap.String("problem_id", req.ProblemID))
					return
				}
				if err == nil && res == nil {
					err = errors.New("评测结果为空")
				}
				if err != nil {
					e.problem.ApplyFailure(err)
					e.log.Warn("代码提交失败",
						zap.String("problem_id", req.ProblemID),
						zap.Error(err))
					if errors.Is(err, models.ErrAuthRequired) {
						e.noticeLocked(NoticeAuthRequired)
					} else {
						e.noticeLocked(NoticeSubmitFailed)
					}
					return
				}
				for _, a := range res.AppliedAffinities {
					e.likes[a.Heroine] = a.LikeValue
				}
				e.problem.ApplyResult(res, e.script, e.pos)
			}
		})
	})
}

// CloseProblem 关闭代码窗口，同一次输入不再触发推进
func (e *Engine) CloseProblem() {
	e.do(func() {
		if !e.problem.OverlayVisible() {
			return
		}
		e.problem.Close()
		e.suppressNext = true
	})
}

// HideProblem 键盘关闭代码窗口，关闭动作本身不会被当作推进
func (e *Engine) HideProblem() {
	e.do(func() {
		if !e.problem.OverlayVisible() {
			return
		}
		e.problem.Close()
	})
}

// DismissResult 关闭评测结果并执行保留的跳转
func (e *Engine) DismissResult() {
	e.do(func() {
		d, ok := e.problem.Dismiss()
		if !ok {
			return
		}
		e.suppressNext = false
		e.applyDecisionLocked(d)
	})
}

// SkipTyping 立即显示全文
func (e *Engine) SkipTyping() {
	e.do(func() { e.typewriter.Skip() })
}

// SavePoint 当前故事和节点 index
func (e *Engine) SavePoint() (models.StoryID, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	node, ok := e.script.Node(e.pos)
	if !ok || e.loading {
		return e.storyID, 0, false
	}
	return e.storyID, node.Index, true
}

// SetAffinities 读档时恢复好感度
func (e *Engine) SetAffinities(likes []models.HeroineLike) {
	e.do(func() {
		for _, l := range likes {
			e.likes[l.Heroine] = l.LikeValue
		}
	})
}

func (e *Engine) Affinities() []models.HeroineLike {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.affinitiesLocked()
}

func (e *Engine) affinitiesLocked() []models.HeroineLike {
	names := make([]string, 0, len(e.likes))
	for name := range e.likes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.HeroineLike, 0, len(names))
	for _, name := range names {
		out = append(out, models.HeroineLike{Heroine: name, LikeValue: e.likes[name]})
	}
	return out
}

func (e *Engine) heroinesLocked() []models.Heroine {
	if e.meta == nil {
		return nil
	}
	return e.meta.Heroines
}

// Close 停止所有定时器，之后的输入和回调都被忽略
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.stopIllustrationLocked()
	e.stopEndLocked()
	e.typewriter.Stop()
	e.cancel()
}
