package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/playback"
)

// Saver 存档和好感度接口
type Saver interface {
	Save(ctx context.Context, req models.SaveRequest) (*models.SaveSlot, error)
	Load(ctx context.Context, slot int) (*models.SaveSlot, error)
	Affinities(ctx context.Context) ([]models.HeroineLike, error)
}

type Config struct {
	StartStory     models.StoryID
	QuickSlot      int
	RequestTimeout time.Duration
}

// 代码窗口可切换的语言，0 表示自动
var languageCycle = []int{0, models.LanguagePython, models.LanguageJava, models.LanguageC}

type (
	likesMsg struct {
		likes []models.HeroineLike
		err   error
	}
	savedMsg struct {
		save *models.SaveSlot
		err  error
	}
	loadedMsg struct {
		save *models.SaveSlot
		err  error
	}
)

type Model struct {
	engine *playback.Engine
	saver  Saver
	bridge *Bridge
	cfg    Config
	log    *zap.Logger
	styles styles

	view   playback.View
	notice string
	status string
	home   bool

	draft    string
	draftKey string
	language int
}

func New(engine *playback.Engine, saver Saver, bridge *Bridge, cfg Config, log *zap.Logger) Model {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = playback.DefaultRequestTimeout
	}
	return Model{
		engine: engine,
		saver:  saver,
		bridge: bridge,
		cfg:    cfg,
		log:    log.Named("tui"),
		styles: defaultStyles(),
		view:   playback.View{Loading: true},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.waitView(), m.bridge.waitNotice(), m.bridge.waitHome(), m.fetchLikes())
}

func (m Model) fetchLikes() tea.Cmd {
	saver, timeout := m.saver, m.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		likes, err := saver.Affinities(ctx)
		return likesMsg{likes: likes, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.applyView(playback.View(msg))
		return m, m.bridge.waitView()

	case noticeMsg:
		m.notice = string(msg)
		return m, m.bridge.waitNotice()

	case homeMsg:
		m.home = true
		return m, m.bridge.waitHome()

	case likesMsg:
		if msg.err != nil {
			m.log.Warn("读取好感度失败", zap.Error(msg.err))
			m.notice = errorNotice(msg.err, "读取好感度失败。")
		} else {
			m.engine.SetAffinities(msg.likes)
		}
		m.engine.Start(m.cfg.StartStory)
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.log.Warn("存档失败", zap.Error(msg.err))
			m.notice = errorNotice(msg.err, "存档失败。")
			return m, nil
		}
		m.status = fmt.Sprintf("已存档到槽 %d（节点 %d）", msg.save.Slot, msg.save.LineIndex)
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.log.Warn("读档失败", zap.Error(msg.err))
			m.notice = errorNotice(msg.err, "读档失败。")
			return m, nil
		}
		m.home = false
		m.engine.SetAffinities(msg.save.HeroineLikes)
		m.engine.Resume(msg.save.StoryID, msg.save.LineIndex)
		m.status = fmt.Sprintf("已读取槽 %d", msg.save.Slot)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// applyView 忽略比当前更旧的快照；换题时重置编辑区
func (m *Model) applyView(v playback.View) {
	if v.Seq < m.view.Seq {
		return
	}
	m.view = v
	if v.Problem == nil {
		m.draftKey = ""
		return
	}
	key := fmt.Sprintf("%s/%d/%s", v.StoryID, v.NodeIndex, v.Problem.ID)
	if key != m.draftKey {
		m.draftKey = key
		m.draft = v.Draft
		m.language = 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m.quit()
	}

	switch {
	case m.home:
		return m.handleHomeKey(key)
	case m.view.ProblemOverlay && m.view.Result == nil:
		return m.handleEditorKey(msg)
	case m.view.Result != nil:
		if key == "enter" || key == " " || key == "esc" {
			m.notice = ""
			m.engine.DismissResult()
		}
		return m, nil
	}

	switch key {
	case "q":
		return m.quit()
	case " ", "enter":
		m.notice = ""
		m.engine.Advance()
	case "tab":
		m.engine.SkipTyping()
	case "s":
		return m, m.quickSave()
	case "l":
		return m, m.quickLoad()
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		if m.view.ChoicesVisible {
			m.engine.SelectChoice(int(key[0] - '1'))
		}
	}
	return m, nil
}

func (m Model) handleHomeKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q":
		return m.quit()
	case "enter", " ":
		m.home = false
		m.engine.Start(m.cfg.StartStory)
	case "l":
		return m, m.quickLoad()
	}
	return m, nil
}

func (m Model) handleEditorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.engine.HideProblem()
		return m, nil
	case "ctrl+d":
		m.notice = ""
		m.engine.Submit(m.draft, m.language)
		return m, nil
	case "ctrl+l":
		m.language = nextLanguage(m.language)
		return m, nil
	case "enter":
		m.draft += "\n"
	case "tab":
		m.draft += "    "
	case "backspace":
		if r := []rune(m.draft); len(r) > 0 {
			m.draft = string(r[:len(r)-1])
		}
	default:
		switch msg.Type {
		case tea.KeyRunes:
			m.draft += string(msg.Runes)
		case tea.KeySpace:
			m.draft += " "
		default:
			return m, nil
		}
	}
	m.engine.SetDraft(m.draft)
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.engine.Close()
	return m, tea.Quit
}

func (m Model) quickSave() tea.Cmd {
	storyID, index, ok := m.engine.SavePoint()
	if !ok {
		m.bridge.Notify("现在无法存档。")
		return nil
	}
	req := models.SaveRequest{
		Slot:         m.cfg.QuickSlot,
		StoryID:      storyID,
		LineIndex:    index,
		HeroineLikes: m.engine.Affinities(),
	}
	saver, timeout := m.saver, m.cfg.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		save, err := saver.Save(ctx, req)
		return savedMsg{save: save, err: err}
	}
}

func (m Model) quickLoad() tea.Cmd {
	saver, timeout, slot := m.saver, m.cfg.RequestTimeout, m.cfg.QuickSlot
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		save, err := saver.Load(ctx, slot)
		return loadedMsg{save: save, err: err}
	}
}

func nextLanguage(current int) int {
	for i, id := range languageCycle {
		if id == current {
			return languageCycle[(i+1)%len(languageCycle)]
		}
	}
	return 0
}

func errorNotice(err error, fallback string) string {
	switch {
	case errors.Is(err, models.ErrAuthRequired):
		return playback.NoticeAuthRequired
	case errors.Is(err, models.ErrNotFound):
		return "存档不存在。"
	}
	return fallback
}

// ResultSummary 评测结果摘要：第一行是通过情况，之后每行一个好感度变化
func ResultSummary(res *models.SubmissionResult) []string {
	if res == nil {
		return nil
	}
	verdict := "failed"
	if res.Passed {
		verdict = "passed"
	}
	lines := []string{fmt.Sprintf("%s: %d/%d tests", verdict, res.OKCount(), len(res.TestResults))}
	for _, a := range res.AppliedAffinities {
		lines = append(lines, fmt.Sprintf("%s %+d → %d", a.Heroine, a.Delta, a.LikeValue))
	}
	return lines
}

func languageName(id int) string {
	switch id {
	case 0:
		return "自动"
	case models.LanguagePython:
		return "Python"
	case models.LanguageJava:
		return "Java"
	case models.LanguageC:
		return "C"
	}
	return fmt.Sprintf("语言 %d", id)
}

func likesLine(likes []models.HeroineLike) string {
	parts := make([]string, 0, len(likes))
	for _, l := range likes {
		parts = append(parts, fmt.Sprintf("%s ♥%d", l.Heroine, l.LikeValue))
	}
	return strings.Join(parts, "  ")
}
