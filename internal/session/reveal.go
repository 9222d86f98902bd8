package session

import (
	"context"
	"time"
)

// 披露节奏的默认值：前三行逐字输出，之后按块快进。
const (
	defaultTickInterval   = 30 * time.Millisecond
	defaultFastStep       = 15
	defaultSlowPhaseLimit = 150
)

// RevealController 将一段已经完整返回的 HTML 答案按固定节拍逐步披露。
// 它不做任何网络流式处理：输入在启动时就是完整的，披露只是本地动画。
// 扫描以字符（rune）为单位推进，遇到 '<' 时整段跳过标签，保证标签不被截断。
type RevealController struct {
	tickInterval   time.Duration
	fastStep       int
	slowPhaseLimit int
}

// NewRevealController 创建一个披露控制器，非正值参数回落到默认节奏。
func NewRevealController(tickInterval time.Duration, fastStep, slowPhaseLimit int) *RevealController {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	if fastStep <= 0 {
		fastStep = defaultFastStep
	}
	if slowPhaseLimit <= 0 {
		slowPhaseLimit = defaultSlowPhaseLimit
	}
	return &RevealController{
		tickInterval:   tickInterval,
		fastStep:       fastStep,
		slowPhaseLimit: slowPhaseLimit,
	}
}

// Reveal 阻塞运行披露循环，每个节拍后通过 emit 发出 content 的当前前缀。
// 每个节拍开始时检查 ctx 与 stop 标志：任一触发即刻终止，
// 返回已披露的前缀与 false；自然播完返回完整内容与 true。
// 空内容零个节拍即完成。取消时已披露的前缀由调用方决定去留（编排器会保留它）。
func (r *RevealController) Reveal(ctx context.Context, content string, emit func(prefix string), stop func() bool) (string, bool) {
	runes := []rune(content)
	if len(runes) == 0 {
		return "", true
	}

	threshold := slowPhaseThreshold(runes, r.slowPhaseLimit)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	i := 0
	for i < len(runes) {
		select {
		case <-ctx.Done():
			return string(runes[:i]), false
		case <-ticker.C:
		}
		if stop != nil && stop() {
			return string(runes[:i]), false
		}

		if runes[i] == '<' {
			// 标签整体跳过；找不到 '>' 时仍前进一位，保证不会原地踏步
			next := i + 1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '>' {
					next = j + 1
					break
				}
			}
			i = next
		} else if i < threshold {
			i++
		} else {
			i += r.fastStep
		}
		if i > len(runes) {
			i = len(runes)
		}

		if emit != nil {
			emit(string(runes[:i]))
		}
	}
	return content, true
}

// slowPhaseThreshold 返回逐字披露阶段的终点：第 3 个换行符的偏移，
// 不足 3 个换行时取 min(limit, 内容长度)。
func slowPhaseThreshold(runes []rune, limit int) int {
	newlines := 0
	for idx, r := range runes {
		if r == '\n' {
			newlines++
			if newlines == 3 {
				return idx
			}
		}
	}
	if limit > len(runes) {
		return len(runes)
	}
	return limit
}
