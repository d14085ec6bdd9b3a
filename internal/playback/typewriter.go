package playback

import (
	"sync"
	"time"
)

// DefaultTypingInterval 每个字符的显示间隔
const DefaultTypingInterval = 25 * time.Millisecond

// Typewriter 逐字显示文本
type Typewriter struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration

	text      []rune
	shown     int
	step      int
	revealing bool
	timer     Timer
	gen       uint64
}

func NewTypewriter(clock Clock, interval time.Duration) *Typewriter {
	if clock == nil {
		clock = SystemClock()
	}
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	return &Typewriter{clock: clock, interval: interval}
}

// Start 从空前缀开始显示 text，会取消正在进行的显示
func (t *Typewriter) Start(text string, charsPerTick int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	if charsPerTick <= 0 {
		charsPerTick = 1
	}
	t.text = []rune(text)
	t.shown = 0
	t.step = charsPerTick
	if len(t.text) == 0 {
		t.revealing = false
		return
	}
	t.revealing = true
	t.scheduleLocked()
}

// Skip 立即显示全文，可重复调用
func (t *Typewriter) Skip() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.shown = len(t.text)
	t.revealing = false
}

// Stop 停止计时，保留已显示内容
func (t *Typewriter) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.revealing = false
}

// Clear 停止并清空
func (t *Typewriter) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	t.text = nil
	t.shown = 0
	t.revealing = false
}

func (t *Typewriter) Displayed() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.text[:t.shown])
}

func (t *Typewriter) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.text)
}

func (t *Typewriter) Revealing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revealing
}

// cancelLocked 让已排队的 tick 失效
func (t *Typewriter) cancelLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Typewriter) scheduleLocked() {
	gen := t.gen
	t.timer = t.clock.AfterFunc(t.interval, func() { t.tick(gen) })
}

func (t *Typewriter) tick(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || !t.revealing {
		return
	}
	t.timer = nil
	t.shown += t.step
	if t.shown >= len(t.text) {
		t.shown = len(t.text)
		t.revealing = false
		return
	}
	t.scheduleLocked()
}
