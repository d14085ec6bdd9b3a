package playback

import (
	"github.com/aiwuxian/codelove/internal/models"
)

// 角色立绘显示模式
const (
	HeroineModeOne   = "one"
	HeroineModeThree = "three"
)

// View 某一时刻的只读快照，供界面渲染
type View struct {
	Seq     uint64
	StoryID models.StoryID
	Title   string
	Phase   Phase
	Loading bool
	Empty   bool

	Position  int
	NodeIndex int
	NodeType  models.NodeType
	Speaker   string
	Text      string
	FullText  string
	Revealing bool

	Choices        []string
	ChoicesVisible bool
	ChoicePending  bool

	Problem            *models.Problem
	ProblemOverlay     bool
	Draft              string
	Submitting         bool
	LanguageID         int
	Result             *models.SubmissionResult
	SubmitError        string
	AdvancementAllowed bool

	Illustrating      bool
	IllustrationImage string

	Ending     bool
	EndMessage string

	ShowHeroines    bool
	Heroines        []models.Heroine
	HeroineMode     string
	BackgroundImage string

	ActiveCondition string
	Affinities      []models.HeroineLike
}

// View 当前快照
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Phase 当前状态
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phaseLocked()
}

func (e *Engine) phaseLocked() Phase {
	switch {
	case e.loading:
		return PhaseLoading
	case e.end.active:
		return PhaseEnding
	case e.illust.active:
		return PhaseIllustrating
	case e.problem.ShowingResult():
		return PhaseShowingResult
	case e.choices.Visible() || e.choicePending:
		return PhaseAwaitingChoice
	}
	if node, ok := e.script.Node(e.pos); ok && node.Type == models.NodeProblem && e.problem.Blocked(e.pos) {
		return PhaseAwaitingProblemSubmission
	}
	if e.typewriter.Revealing() {
		return PhaseRevealing
	}
	return PhaseIdle
}

func (e *Engine) viewLocked() View {
	v := View{
		Seq:                e.seq,
		StoryID:            e.storyID,
		Phase:              e.phaseLocked(),
		Loading:            e.loading,
		Empty:              !e.loading && e.script.Len() == 0,
		Position:           e.pos,
		Text:               e.typewriter.Displayed(),
		FullText:           e.typewriter.Text(),
		Revealing:          e.typewriter.Revealing(),
		ChoicesVisible:     e.choices.Visible(),
		ChoicePending:      e.choicePending,
		ProblemOverlay:     e.problem.OverlayVisible(),
		Draft:              e.problem.Draft(),
		Submitting:         e.problem.Submitting(),
		Result:             e.problem.LastResult(),
		AdvancementAllowed: e.problem.AdvancementAllowed(),
		Illustrating:       e.illust.active,
		IllustrationImage:  e.illust.image,
		Ending:             e.end.active,
		EndMessage:         e.end.message,
		ActiveCondition:    e.activeCondition,
		Affinities:         e.affinitiesLocked(),
	}
	if err := e.problem.LastError(); err != nil {
		v.SubmitError = err.Error()
	}
	if p := e.problem.Current(); p != nil {
		cp := *p
		v.Problem = &cp
	}

	node, ok := e.script.Node(e.pos)
	if ok {
		v.NodeIndex = node.Index
		v.NodeType = node.Type
		v.Speaker = node.Speaker
		if node.Type == models.NodeChoice {
			v.Choices = Present(node)
		}
		if node.Type == models.NodeProblem {
			v.LanguageID = ChooseLanguage(0, node.Speaker, e.heroinesLocked())
		}
	}

	if e.meta != nil {
		v.Title = e.meta.Title
		v.BackgroundImage = e.meta.BackgroundImage
		v.Heroines = append([]models.Heroine(nil), e.meta.Heroines...)
		v.HeroineMode = HeroineMode(node, len(e.meta.Heroines))
	}
	v.ShowHeroines = e.heroineAppeared && !e.end.active && !e.illust.active
	return v
}

// HeroineMode 单人故事只显示一个角色，节点要求或多人故事显示三人
func HeroineMode(node models.ScriptNode, heroineCount int) string {
	if node.ShowThree {
		return HeroineModeThree
	}
	if heroineCount >= 3 {
		return HeroineModeThree
	}
	return HeroineModeOne
}
