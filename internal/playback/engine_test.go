package playback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aiwuxian/codelove/internal/models"
)

type fakeBackend struct {
	mu          sync.Mutex
	scripts     map[models.StoryID][]models.ScriptNode
	metas       map[models.StoryID]*models.StoryMeta
	choiceFn    func(models.ChoiceRequest) (*models.ChoiceDecision, error)
	submitFn    func(models.SubmissionRequest) (*models.SubmissionResult, error)
	endingFn    func(models.StoryID) (models.StoryID, error)
	submissions []models.SubmissionRequest
	choiceReqs  []models.ChoiceRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		scripts: make(map[models.StoryID][]models.ScriptNode),
		metas:   make(map[models.StoryID]*models.StoryMeta),
	}
}

func (f *fakeBackend) StoryScript(_ context.Context, id models.StoryID) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodes, ok := f.scripts[id]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return json.Marshal(nodes)
}

func (f *fakeBackend) StoryMeta(_ context.Context, id models.StoryID) (*models.StoryMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.metas[id]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return meta, nil
}

func (f *fakeBackend) SelectChoice(_ context.Context, req models.ChoiceRequest) (*models.ChoiceDecision, error) {
	f.mu.Lock()
	f.choiceReqs = append(f.choiceReqs, req)
	fn := f.choiceFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("not configured")
	}
	return fn(req)
}

func (f *fakeBackend) SubmitCode(_ context.Context, req models.SubmissionRequest) (*models.SubmissionResult, error) {
	f.mu.Lock()
	f.submissions = append(f.submissions, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("not configured")
	}
	return fn(req)
}

func (f *fakeBackend) ResolveEnding(_ context.Context, id models.StoryID) (models.StoryID, error) {
	if f.endingFn == nil {
		return "", errors.New("not configured")
	}
	return f.endingFn(id)
}

type harness struct {
	engine  *Engine
	clock   *manualClock
	backend *fakeBackend

	mu      sync.Mutex
	notices []string
	homes   int
	changes int
}

func newHarness(t *testing.T, backend *fakeBackend, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{clock: newManualClock(), backend: backend}
	o := Options{
		Clock:          h.clock,
		Runner:         syncRunner,
		Logger:         zaptest.NewLogger(t),
		TypingInterval: 10 * time.Millisecond,
		OnHome: func() {
			h.mu.Lock()
			h.homes++
			h.mu.Unlock()
		},
		OnNotice: func(msg string) {
			h.mu.Lock()
			h.notices = append(h.notices, msg)
			h.mu.Unlock()
		},
		OnChange: func(View) {
			h.mu.Lock()
			h.changes++
			h.mu.Unlock()
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.engine = New(backend, o)
	t.Cleanup(h.engine.Close)
	return h
}

// next 等打字结束后推进一次
func (h *harness) next() {
	h.clock.Advance(time.Second)
	h.engine.Advance()
}

func (h *harness) pos() int { return h.engine.View().Position }

func (h *harness) lastNotice() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.notices) == 0 {
		return ""
	}
	return h.notices[len(h.notices)-1]
}

func narration(idx int, text string) models.ScriptNode {
	return models.ScriptNode{Index: idx, Type: models.NodeNarration, Text: text}
}

func tagged(idx int, cond string) models.ScriptNode {
	return models.ScriptNode{Index: idx, Type: models.NodeDialogue, Text: cond, Meta: models.Meta{Condition: cond}}
}

func codeMeta(id models.StoryID) *models.StoryMeta {
	return &models.StoryMeta{
		ID:       id,
		Title:    "初遇",
		Heroines: []models.Heroine{{Name: "林晓", Language: "python"}, {Name: "苏雨", LanguageID: models.LanguageJava}},
		Problems: []models.Problem{{ID: "p1", Title: "两数之和"}},
	}
}

func TestEngineLinearPlayback(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		narration(0, "一"), narration(1, "二"), narration(2, "三"), narration(3, "四"), narration(4, "五"),
	}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	require.Equal(t, 0, h.pos())

	want := []int{1, 2, 3, 4, 4}
	for _, w := range want {
		h.next()
		assert.Equal(t, w, h.pos())
	}
	assert.Equal(t, "五", h.engine.View().Text)
}

func TestEngineFirstAdvanceCompletesLine(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "很长的一句话"), narration(1, "下一句")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	assert.Equal(t, PhaseRevealing, h.engine.Phase())

	h.engine.Advance()
	v := h.engine.View()
	assert.Equal(t, 0, v.Position)
	assert.Equal(t, "很长的一句话", v.Text)
	assert.False(t, v.Revealing)

	h.engine.Advance()
	assert.Equal(t, 1, h.pos())
}

func TestEngineConditionalChoice(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		narration(0, "a"),
		narration(1, "b"),
		{Index: 2, Type: models.NodeChoice, Text: "选哪个", Choices: []models.Choice{
			{Text: "A", Condition: "routeA"},
			{Text: "B", Condition: "routeB"},
		}},
		tagged(3, "routeA"),
		tagged(4, "routeB"),
		narration(5, "汇合"),
		narration(6, "结尾"),
	}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.next()
	require.Equal(t, 2, h.pos())

	h.engine.SelectChoice(0)
	assert.Equal(t, 2, h.pos(), "choices are not open yet")

	h.next()
	v := h.engine.View()
	assert.True(t, v.ChoicesVisible)
	assert.Equal(t, []string{"A", "B"}, v.Choices)
	assert.Equal(t, PhaseAwaitingChoice, v.Phase)

	h.engine.SelectChoice(0)
	v = h.engine.View()
	assert.Equal(t, 3, v.Position)
	assert.False(t, v.ChoicesVisible)
	assert.Equal(t, "routeA", v.ActiveCondition)

	h.next()
	v = h.engine.View()
	assert.Equal(t, 5, v.Position)
	assert.Equal(t, "", v.ActiveCondition)
}

func TestEngineSequentialSkipsUntaggedBranches(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		{Index: 0, Type: models.NodeChoice, Text: "?", Choices: []models.Choice{{Text: "随便"}}},
		tagged(1, "routeA"),
		tagged(2, "routeB"),
		narration(3, "end"),
	}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.SelectChoice(0)
	assert.Equal(t, 3, h.pos())
}

func TestEngineSequentialStopsAtLastNode(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "a"), tagged(1, "x"), tagged(2, "y")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	assert.Equal(t, 2, h.pos())
}

func problemScript(withPass bool) []models.ScriptNode {
	nodes := []models.ScriptNode{
		narration(0, "开始"),
		{Index: 1, Type: models.NodeProblem, Speaker: "苏雨", Text: "来写题吧", Meta: models.Meta{ProblemID: "p1"}},
		narration(2, "下一句"),
	}
	if withPass {
		nodes = append(nodes, tagged(3, "fail"), tagged(4, "pass"))
	}
	return append(nodes, narration(9, "尾声"))
}

func TestEngineProblemPassNavigatesOnDismiss(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = problemScript(true)
	b.metas["s1"] = codeMeta("s1")
	b.submitFn = func(models.SubmissionRequest) (*models.SubmissionResult, error) {
		return &models.SubmissionResult{Passed: true, TestResults: []models.TestResult{{OK: true}}}, nil
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	v := h.engine.View()
	require.Equal(t, 1, v.Position)
	assert.True(t, v.ProblemOverlay)
	require.NotNil(t, v.Problem)
	assert.Equal(t, "p1", v.Problem.ID)
	assert.Equal(t, models.LanguageJava, v.LanguageID)
	assert.Equal(t, PhaseAwaitingProblemSubmission, v.Phase)

	h.next()
	assert.Equal(t, 1, h.pos())
	assert.Equal(t, NoticeSubmitRequired, h.lastNotice())

	h.engine.Submit("print(1)\r\n", 0)
	require.Len(t, b.submissions, 1)
	assert.Equal(t, "print(1)\n", b.submissions[0].SourceCode)
	assert.Equal(t, models.LanguageJava, b.submissions[0].LanguageID)
	assert.Equal(t, models.StoryID("s1"), b.submissions[0].StoryID)

	v = h.engine.View()
	assert.Equal(t, PhaseShowingResult, v.Phase)
	require.NotNil(t, v.Result)
	assert.Equal(t, 1, v.Position, "result must be shown before moving")

	h.engine.Advance()
	assert.Equal(t, 1, h.pos())

	h.engine.DismissResult()
	v = h.engine.View()
	assert.Equal(t, 4, v.Position)
	assert.Nil(t, v.Result)
	assert.Equal(t, "pass", v.ActiveCondition)
}

func TestEngineProblemPassWithoutTagGoesSequential(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = problemScript(false)
	b.metas["s1"] = codeMeta("s1")
	b.submitFn = func(models.SubmissionRequest) (*models.SubmissionResult, error) {
		return &models.SubmissionResult{Passed: true, TestResults: []models.TestResult{{OK: true}}}, nil
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.Submit("x", 0)
	h.engine.DismissResult()
	assert.Equal(t, 2, h.pos())
}

func TestEngineSubmissionFailureHoldsPlayer(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = problemScript(false)
	b.metas["s1"] = codeMeta("s1")
	b.submitFn = func(models.SubmissionRequest) (*models.SubmissionResult, error) {
		return nil, errors.New("500 internal server error")
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.Submit("x", 0)

	v := h.engine.View()
	assert.Equal(t, 1, v.Position)
	assert.False(t, v.AdvancementAllowed)
	assert.False(t, v.Submitting)
	assert.NotEmpty(t, v.SubmitError)
	assert.Equal(t, NoticeSubmitFailed, h.lastNotice())

	h.next()
	h.next()
	assert.Equal(t, 1, h.pos())

	b.submitFn = func(models.SubmissionRequest) (*models.SubmissionResult, error) {
		return nil, models.ErrAuthRequired
	}
	h.engine.Submit("x", models.LanguageC)
	assert.Equal(t, NoticeAuthRequired, h.lastNotice())
	assert.Equal(t, 1, h.pos())
	assert.Equal(t, models.LanguageC, b.submissions[1].LanguageID)
}

func TestEngineCloseProblemSuppressesNextAdvance(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = problemScript(false)
	b.metas["s1"] = codeMeta("s1")
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.clock.Advance(time.Second)

	h.engine.CloseProblem()
	assert.False(t, h.engine.View().ProblemOverlay)

	// 关闭窗口的同一次输入被吞掉
	h.engine.Advance()
	assert.False(t, h.engine.View().ProblemOverlay)
	assert.Empty(t, h.lastNotice())

	// 窗口关着时推进会重新打开
	h.engine.Advance()
	assert.True(t, h.engine.View().ProblemOverlay)

	h.engine.Advance()
	assert.Equal(t, NoticeSubmitRequired, h.lastNotice())
	assert.Equal(t, 1, h.pos())
}

func TestEngineSuppressionEndsWithProblemNode(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = problemScript(false)
	b.metas["s1"] = codeMeta("s1")
	b.submitFn = func(models.SubmissionRequest) (*models.SubmissionResult, error) {
		return &models.SubmissionResult{Passed: true, TestResults: []models.TestResult{{OK: true}}}, nil
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	require.Equal(t, 1, h.pos())

	h.engine.CloseProblem()
	h.engine.Submit("x", 0)
	h.engine.DismissResult()
	require.Equal(t, 2, h.pos())

	h.next()
	assert.Equal(t, 3, h.pos())
}

func TestEngineHideProblemDoesNotSwallowAdvance(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = problemScript(false)
	b.metas["s1"] = codeMeta("s1")
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.clock.Advance(time.Second)

	h.engine.HideProblem()
	assert.False(t, h.engine.View().ProblemOverlay)

	h.engine.Advance()
	assert.True(t, h.engine.View().ProblemOverlay)
	assert.Equal(t, 1, h.pos())
}

func TestEngineMissingProblemFailsOpen(t *testing.T) {
	b := newFakeBackend()
	nodes := problemScript(false)
	nodes[1].Meta.ProblemID = "unknown"
	b.scripts["s1"] = nodes
	b.metas["s1"] = codeMeta("s1")
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	require.Equal(t, 1, h.pos())
	assert.False(t, h.engine.View().ProblemOverlay)

	h.next()
	assert.Equal(t, 2, h.pos())
}

func TestEngineIllustrationDefaultDuration(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		narration(0, "a"),
		{Index: 1, Type: models.NodeIllust, Meta: models.Meta{Image: "cg01.png", Duration: 0}},
		narration(2, "b"),
	}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.clock.Advance(time.Second)
	h.engine.Advance()

	v := h.engine.View()
	require.Equal(t, 1, v.Position)
	assert.Equal(t, PhaseIllustrating, v.Phase)
	assert.Equal(t, "cg01.png", v.IllustrationImage)

	h.engine.Advance()
	h.clock.Advance(2999 * time.Millisecond)
	assert.Equal(t, 1, h.pos())

	h.clock.Advance(time.Millisecond)
	v = h.engine.View()
	assert.Equal(t, 2, v.Position)
	assert.False(t, v.Illustrating)
}

func TestEngineIllustrationRestartCancelsPrevious(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		narration(0, "a"),
		{Index: 1, Type: models.NodeIllust, Meta: models.Meta{Image: "one.png", Duration: 3}},
		{Index: 2, Type: models.NodeIllust, Meta: models.Meta{Image: "two.png", Duration: 3}},
		narration(3, "b"),
		narration(4, "c"),
	}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.engine.SkipTyping()
	h.engine.Advance()
	require.Equal(t, 1, h.pos())

	h.clock.Advance(2 * time.Second)
	h.engine.Resume("s1", 2)
	require.Equal(t, 2, h.pos())

	// 第一个插画本该在这里到期
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.pos())

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 3, h.pos())

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 3, h.pos())
}

func TestEngineEndIsIdempotent(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "a"), {Index: 1, Type: models.NodeEnd}}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	v := h.engine.View()
	require.Equal(t, PhaseEnding, v.Phase)
	assert.Equal(t, EndMessage, v.EndMessage)
	assert.False(t, v.ShowHeroines)

	h.clock.Advance(2 * time.Second)
	h.engine.do(h.engine.enterNodeLocked)
	h.engine.Advance()

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, 1, h.homes)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.homes)
}

func TestEngineStoryEndSwitchesStory(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		narration(0, "a"),
		{Index: 1, Type: models.NodeStoryEnd, Meta: models.Meta{NextStoryCode: "s2"}},
	}
	b.scripts["s2"] = []models.ScriptNode{narration(0, "第二章")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	b.metas["s2"] = &models.StoryMeta{ID: "s2", Title: "第二章"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()

	v := h.engine.View()
	assert.Equal(t, models.StoryID("s2"), v.StoryID)
	assert.Equal(t, 0, v.Position)
	assert.Equal(t, "第二章", v.Title)
}

func TestEngineEndingResolvesBranch(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "a"), {Index: 1, Type: models.NodeEnding, Text: "命运的分岔"}}
	b.scripts["end-lin"] = []models.ScriptNode{{Index: 0, Type: models.NodeIllust}, narration(1, "林晓结局")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	b.metas["end-lin"] = &models.StoryMeta{ID: "end-lin"}
	b.endingFn = func(id models.StoryID) (models.StoryID, error) {
		assert.Equal(t, models.StoryID("s1"), id)
		return "end-lin", nil
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()

	v := h.engine.View()
	assert.Equal(t, models.StoryID("end-lin"), v.StoryID)
	assert.Equal(t, 1, v.Position)
}

func TestEngineEndingFailureStaysPut(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "a"), {Index: 1, Type: models.NodeEnding, Text: "命运"}, narration(2, "b")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	b.endingFn = func(models.StoryID) (models.StoryID, error) { return "", errors.New("503") }
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	v := h.engine.View()
	assert.Equal(t, models.StoryID("s1"), v.StoryID)
	assert.Equal(t, 1, v.Position)

	h.next()
	assert.Equal(t, 2, h.pos())
}

func serverChoiceScript() []models.ScriptNode {
	return []models.ScriptNode{
		{Index: 0, Type: models.NodeChoice, Text: "送她什么", Choices: []models.Choice{
			{Text: "键盘", HeroineName: "林晓", AffinityDelta: intp(5), NextIndex: intp(20)},
		}},
		narration(10, "普通"),
		narration(20, "她很开心"),
		narration(30, "服务器指定"),
	}
}

func TestEngineServerChoiceNavigates(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = serverChoiceScript()
	b.metas["s1"] = codeMeta("s1")
	b.choiceFn = func(req models.ChoiceRequest) (*models.ChoiceDecision, error) {
		return &models.ChoiceDecision{Action: models.ActionNavigate, TargetIndex: intp(30), LikeValue: intp(55)}, nil
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.SelectChoice(0)

	require.Len(t, b.choiceReqs, 1)
	assert.Equal(t, 0, b.choiceReqs[0].CurrentLineIndex)
	v := h.engine.View()
	assert.Equal(t, 3, v.Position)
	assert.Equal(t, []models.HeroineLike{{Heroine: "林晓", LikeValue: 55}}, v.Affinities)
}

func TestEngineServerChoiceBranches(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = serverChoiceScript()
	b.scripts["s2"] = []models.ScriptNode{narration(0, "新故事")}
	b.metas["s1"] = codeMeta("s1")
	b.metas["s2"] = codeMeta("s2")
	b.choiceFn = func(models.ChoiceRequest) (*models.ChoiceDecision, error) {
		return &models.ChoiceDecision{Action: models.ActionBranch, StoryID: "s2"}, nil
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.SelectChoice(0)
	assert.Equal(t, models.StoryID("s2"), h.engine.View().StoryID)
}

func TestEngineServerChoiceFailureFallsBackSequential(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = serverChoiceScript()
	b.metas["s1"] = codeMeta("s1")
	b.choiceFn = func(models.ChoiceRequest) (*models.ChoiceDecision, error) {
		return nil, models.ErrAuthRequired
	}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.SelectChoice(0)

	assert.Equal(t, 1, h.pos())
	assert.Equal(t, NoticeAuthRequired, h.lastNotice())
	assert.False(t, h.engine.View().ChoicePending)
}

func TestEngineDiscardsStaleLoads(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "旧")}
	b.scripts["s2"] = []models.ScriptNode{narration(0, "新")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1", Title: "旧故事"}
	b.metas["s2"] = &models.StoryMeta{ID: "s2", Title: "新故事"}

	var queue []func()
	h := newHarness(t, b, func(o *Options) {
		o.Runner = func(f func()) { queue = append(queue, f) }
	})

	h.engine.Start("s1")
	h.engine.Start("s2")
	assert.Equal(t, PhaseLoading, h.engine.Phase())

	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]
		job()
	}

	v := h.engine.View()
	assert.Equal(t, models.StoryID("s2"), v.StoryID)
	assert.Equal(t, "新故事", v.Title)
	assert.Equal(t, "新", v.FullText)
}

func TestEngineProblemWaitsForMeta(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{{Index: 0, Type: models.NodeProblem, Speaker: "苏雨", Meta: models.Meta{ProblemID: "p1"}}, narration(1, "b")}
	b.metas["s1"] = codeMeta("s1")

	var queue []func()
	h := newHarness(t, b, func(o *Options) {
		o.Runner = func(f func()) { queue = append(queue, f) }
	})

	h.engine.Start("s1")
	require.Len(t, queue, 2)
	queue[0]()

	// 剧本到了但题目还没到，不能放行
	h.next()
	assert.Equal(t, 0, h.pos())
	assert.False(t, h.engine.View().ProblemOverlay)

	queue[1]()
	v := h.engine.View()
	assert.True(t, v.ProblemOverlay)
	require.NotNil(t, v.Problem)
}

func TestEngineResumeAndSavePoint(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(100, "a"), narration(110, "b"), narration(120, "c")}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Resume("s1", 110)
	assert.Equal(t, 1, h.pos())

	id, idx, ok := h.engine.SavePoint()
	require.True(t, ok)
	assert.Equal(t, models.StoryID("s1"), id)
	assert.Equal(t, 110, idx)

	h.engine.Resume("s1", 999)
	assert.Equal(t, 0, h.pos())
}

func TestEngineHeroinePresenceIsSticky(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{
		narration(0, "清晨"),
		{Index: 1, Type: models.NodeDialogue, Speaker: "林晓", Text: "早"},
		narration(2, "她走了"),
	}
	b.metas["s1"] = codeMeta("s1")
	h := newHarness(t, b)

	h.engine.Start("s1")
	assert.False(t, h.engine.View().ShowHeroines)

	h.next()
	assert.True(t, h.engine.View().ShowHeroines)

	h.next()
	v := h.engine.View()
	assert.True(t, v.ShowHeroines)
	assert.Equal(t, HeroineModeOne, v.HeroineMode)
}

func TestEngineEmptyScriptOnLoadError(t *testing.T) {
	b := newFakeBackend()
	h := newHarness(t, b)

	h.engine.Start("missing")
	v := h.engine.View()
	assert.True(t, v.Empty)
	assert.False(t, v.Loading)

	h.engine.Advance()
	_, _, ok := h.engine.SavePoint()
	assert.False(t, ok)
}

func TestEngineCloseStopsTimers(t *testing.T) {
	b := newFakeBackend()
	b.scripts["s1"] = []models.ScriptNode{narration(0, "a"), {Index: 1, Type: models.NodeEnd}}
	b.metas["s1"] = &models.StoryMeta{ID: "s1"}
	h := newHarness(t, b)

	h.engine.Start("s1")
	h.next()
	h.engine.Close()

	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.homes)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestHeroineMode(t *testing.T) {
	assert.Equal(t, HeroineModeOne, HeroineMode(models.ScriptNode{}, 1))
	assert.Equal(t, HeroineModeThree, HeroineMode(models.ScriptNode{ShowThree: true}, 1))
	assert.Equal(t, HeroineModeThree, HeroineMode(models.ScriptNode{}, 3))
}
