package feedcache

import "github.com/hitoshi/vinefeed/internal/model"

// Subscribe はフィード変更イベントの購読チャンネルと購読解除関数を返す。
// チャンネルは購読者ごとに独立したバッファを持つ。購読者の消費が遅れて
// バッファが溢れた場合、イベントは破棄される（エンジンは決してブロックしない）。
// 破棄はメトリクスに記録される。
func (c *Cache) Subscribe() (<-chan model.FeedEvent, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.closed {
		ch := make(chan model.FeedEvent)
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan model.FeedEvent, c.opts.EventBuffer)
	c.subscribers[id] = ch

	unsubscribe := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// emit は全購読者へイベントを非ブロッキングで配信する。
func (c *Cache) emit(ev model.FeedEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.collector.RecordEventDropped()
		}
	}
}
