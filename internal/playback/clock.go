package playback

import "time"

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Clock 调度定时回调，测试时替换成手动时钟
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock 基于 time.AfterFunc 的时钟
func SystemClock() Clock { return systemClock{} }

// Runner 启动异步任务（网络请求）
type Runner func(func())

func goRunner(f func()) { go f() }
