package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReveal() *RevealController {
	return NewRevealController(time.Millisecond, 15, 150)
}

func TestRevealPlainTextCompletes(t *testing.T) {
	r := newTestReveal()
	content := "hello, incremental world!"

	var emits []string
	prefix, completed := r.Reveal(context.Background(), content, func(p string) {
		emits = append(emits, p)
	}, nil)

	require.True(t, completed)
	assert.Equal(t, content, prefix)
	// 无换行且短于慢速阈值：全程逐字，每个字符一个节拍
	assert.Len(t, emits, len([]rune(content)))
	assert.Equal(t, content, emits[len(emits)-1])
}

func TestRevealFastPhaseAfterLimit(t *testing.T) {
	r := newTestReveal()
	content := strings.Repeat("a", 200) // 无换行，慢速阈值取 150

	var emits []string
	prefix, completed := r.Reveal(context.Background(), content, func(p string) {
		emits = append(emits, p)
	}, nil)

	require.True(t, completed)
	assert.Equal(t, content, prefix)
	// 前 150 个字符逐字，剩余 50 个按 15 一跳：150 + 4 个节拍
	assert.Len(t, emits, 154)
}

func TestRevealThresholdAtThirdNewline(t *testing.T) {
	r := newTestReveal()
	content := "a\nb\nc\n" + strings.Repeat("x", 30) // 第 3 个换行在偏移 5

	var emits []string
	prefix, completed := r.Reveal(context.Background(), content, func(p string) {
		emits = append(emits, p)
	}, nil)

	require.True(t, completed)
	assert.Equal(t, content, prefix)
	// 偏移 0..4 逐字（5 个节拍），之后 36-5=31 个字符按 15 一跳（3 个节拍）
	assert.Len(t, emits, 8)
}

func TestRevealNeverSplitsTags(t *testing.T) {
	r := newTestReveal()
	content := "<p>hi</p>"

	var emits []string
	prefix, completed := r.Reveal(context.Background(), content, func(p string) {
		emits = append(emits, p)
	}, nil)

	require.True(t, completed)
	assert.Equal(t, content, prefix)
	for _, p := range emits {
		assert.Equal(t, strings.Count(p, "<"), strings.Count(p, ">"), "前缀 %q 截断了标签", p)
	}
}

func TestRevealUnclosedTagStillAdvances(t *testing.T) {
	r := newTestReveal()
	content := "<abc"

	prefix, completed := r.Reveal(context.Background(), content, nil, nil)
	require.True(t, completed)
	assert.Equal(t, content, prefix)
}

func TestRevealEmptyContentZeroTicks(t *testing.T) {
	r := newTestReveal()

	calls := 0
	prefix, completed := r.Reveal(context.Background(), "", func(string) { calls++ }, nil)

	assert.True(t, completed)
	assert.Empty(t, prefix)
	assert.Zero(t, calls)
}

func TestRevealStopKeepsRevealedPrefix(t *testing.T) {
	r := newTestReveal()
	content := strings.Repeat("x", 100)

	var emits []string
	stop := func() bool { return len(emits) >= 5 }
	prefix, completed := r.Reveal(context.Background(), content, func(p string) {
		emits = append(emits, p)
	}, stop)

	require.False(t, completed)
	require.Len(t, emits, 5)
	assert.Equal(t, emits[4], prefix)
	assert.NotEmpty(t, prefix)
}

func TestRevealStopBeforeFirstEmission(t *testing.T) {
	r := newTestReveal()

	calls := 0
	prefix, completed := r.Reveal(context.Background(), "some answer", func(string) { calls++ }, func() bool { return true })

	assert.False(t, completed)
	assert.Empty(t, prefix)
	assert.Zero(t, calls)
}

func TestRevealContextCancellation(t *testing.T) {
	r := NewRevealController(time.Hour, 15, 150) // 节拍极长，只能靠取消退出
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prefix, completed := r.Reveal(ctx, "never shown", nil, nil)
	assert.False(t, completed)
	assert.Empty(t, prefix)
}
