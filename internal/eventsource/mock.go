package eventsource

import (
	"context"
	"sync"

	"github.com/hitoshi/vinefeed/internal/model"
)

// MockSource はチャンネルバックのテスト用Source実装。
// Subscribe呼び出しを記録し、Emit系メソッドで任意のイベントを注入できる。
type MockSource struct {
	mu           sync.Mutex
	calls        []Filter
	events       chan Event
	closed       bool
	subscribeErr error
}

// NewMockSource は指定バッファサイズのMockSourceを生成する。
func NewMockSource(buffer int) *MockSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &MockSource{
		events: make(chan Event, buffer),
	}
}

// Subscribe はフィルタを記録する。配信自体はEmit系メソッドで駆動する。
func (m *MockSource) Subscribe(ctx context.Context, f Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.calls = append(m.calls, f)
	return nil
}

// Events は配信チャンネルを返す。
func (m *MockSource) Events() <-chan Event {
	return m.events
}

// HasEvents は未消費のイベントが存在するかを返す。
func (m *MockSource) HasEvents() bool {
	return len(m.events) > 0
}

// Emit は動画レコードを配信する。
func (m *MockSource) Emit(rec *model.VideoRecord) {
	m.events <- Event{Record: rec}
}

// EmitError はソースエラーを配信する。
func (m *MockSource) EmitError(err error) {
	m.events <- Event{Err: err}
}

// EmitEndOfStored は保存済みイベント配信完了マーカーを配信する。
func (m *MockSource) EmitEndOfStored() {
	m.events <- Event{EndOfStored: true}
}

// SetSubscribeError は以降のSubscribe呼び出しが返すエラーを設定する。
func (m *MockSource) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// SubscribeCalls は記録されたSubscribe呼び出しのフィルタ一覧を返す。
func (m *MockSource) SubscribeCalls() []Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Filter, len(m.calls))
	copy(out, m.calls)
	return out
}

// Close は配信チャンネルを閉じる。
func (m *MockSource) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}
