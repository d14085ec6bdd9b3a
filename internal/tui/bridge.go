package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aiwuxian/codelove/internal/playback"
)

type (
	viewMsg   playback.View
	noticeMsg string
	homeMsg   struct{}
)

// Bridge 把引擎回调转成 bubbletea 消息；快照只保留最新的一份
type Bridge struct {
	mu      sync.Mutex
	views   chan playback.View
	notices chan string
	home    chan struct{}
}

func NewBridge() *Bridge {
	return &Bridge{
		views:   make(chan playback.View, 1),
		notices: make(chan string, 8),
		home:    make(chan struct{}, 1),
	}
}

// Wire 填上引擎的回调
func (b *Bridge) Wire(opts playback.Options) playback.Options {
	opts.OnChange = b.Publish
	opts.OnNotice = b.Notify
	opts.OnHome = b.Home
	return opts
}

// Publish 替换未读的快照，Seq 较旧的不会覆盖较新的
func (b *Bridge) Publish(v playback.View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case old := <-b.views:
		if old.Seq > v.Seq {
			v = old
		}
	default:
	}
	b.views <- v
}

// Notify 提示太多时丢弃
func (b *Bridge) Notify(msg string) {
	select {
	case b.notices <- msg:
	default:
	}
}

func (b *Bridge) Home() {
	select {
	case b.home <- struct{}{}:
	default:
	}
}

func (b *Bridge) waitView() tea.Cmd {
	return func() tea.Msg { return viewMsg(<-b.views) }
}

func (b *Bridge) waitNotice() tea.Cmd {
	return func() tea.Msg { return noticeMsg(<-b.notices) }
}

func (b *Bridge) waitHome() tea.Cmd {
	return func() tea.Msg {
		<-b.home
		return homeMsg{}
	}
}
