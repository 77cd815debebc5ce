package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hitoshi/vinefeed/internal/eventsource"
	"github.com/hitoshi/vinefeed/internal/metrics"
	"github.com/hitoshi/vinefeed/internal/model"
)

const (
	// eventBufferSize は配信チャンネルのバッファサイズ。
	eventBufferSize = 256
	// reconnectInitialDelay は再接続バックオフの初期待機時間。
	reconnectInitialDelay = 1 * time.Second
	// reconnectMaxDelay は再接続バックオフの最大待機時間。
	reconnectMaxDelay = 30 * time.Second
	// dialTimeout は接続確立のタイムアウト。
	dialTimeout = 10 * time.Second
)

// profileDelivery はプロフィール取得購読への配信1件。
type profileDelivery struct {
	event *wireEvent
	eose  bool
}

// Client はNostrリレーへのWebSocketクライアント。
// eventsource.Sourceとprofile.Fetcherの両方を満たす。
// 接続断は指数バックオフで再接続し、登録済みのフィード購読を再発行する。
type Client struct {
	url       string
	logger    *slog.Logger
	collector metrics.Collector
	limiter   *rate.Limiter
	events    chan eventsource.Event

	mu          sync.Mutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	feedSubs    map[string]wireFilter
	profileSubs map[string]chan profileDelivery
	// replaceSubID は置換可能なフィード購読（ソーシャル購読）のID。
	// Replace=trueの購読はこのIDの購読をCLOSEしてから再発行される。
	replaceSubID string
	closed       bool
}

// Dial はリレーへ接続してClientを生成し、受信ループを開始する。
// rateLimitは送信フレームのレート制限（フレーム/秒）、burstはバースト許容数。
func Dial(
	ctx context.Context,
	url string,
	rateLimit float64,
	burst int,
	logger *slog.Logger,
	collector metrics.Collector,
) (*Client, error) {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if burst <= 0 {
		burst = 1
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}

	c := &Client{
		url:         url,
		logger:      logger,
		collector:   collector,
		limiter:     rate.NewLimiter(rate.Limit(rateLimit), burst),
		events:      make(chan eventsource.Event, eventBufferSize),
		conn:        conn,
		feedSubs:    make(map[string]wireFilter),
		profileSubs: make(map[string]chan profileDelivery),
	}

	go c.readLoop()

	logger.Info("relay connected", slog.String("url", url))
	return c, nil
}

// Subscribe は動画イベント（kind 21/22）の購読を開始する。
// Replace=trueの場合、以前の置換可能購読をCLOSEしてから再発行する。
// 登録済みの購読は接続断後の再接続時にも再発行される。
func (c *Client) Subscribe(ctx context.Context, f eventsource.Filter) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	wf := wireFilter{
		Kinds:    []int{KindVideo, KindShortVideo},
		Authors:  f.Authors,
		Hashtags: f.Hashtags,
		Limit:    f.Limit,
	}
	subID := "feed-" + uuid.NewString()[:8]

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("relay client is closed")
	}
	var closePrior string
	if f.Replace {
		if c.replaceSubID != "" {
			closePrior = c.replaceSubID
			delete(c.feedSubs, closePrior)
		}
		c.replaceSubID = subID
	}
	c.feedSubs[subID] = wf
	c.mu.Unlock()

	if closePrior != "" {
		if data, err := encodeClose(closePrior); err == nil {
			if err := c.writeFrame(data); err != nil {
				c.logger.Warn("failed to close prior subscription",
					slog.String("sub_id", closePrior),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	data, err := encodeReq(subID, wf)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	if err := c.writeFrame(data); err != nil {
		// 購読は登録済みであり、再接続時に再発行される
		return fmt.Errorf("failed to send subscription: %w", err)
	}

	c.logger.Info("subscribed",
		slog.String("sub_id", subID),
		slog.Int("authors", len(f.Authors)),
		slog.Bool("replace", f.Replace),
	)
	return nil
}

// Events は配信チャンネルを返す。チャンネルはClose時に閉じられる。
func (c *Client) Events() <-chan eventsource.Event {
	return c.events
}

// HasEvents は未消費のイベントが存在するかを返す。
func (c *Client) HasEvents() bool {
	return len(c.events) > 0
}

// FetchProfiles は指定pubkey集合のkind-0プロフィールを一括取得する。
// 一時的な購読を開き、EOSE受信またはコンテキストの期限で収集を終える。
// kind-0は置換可能イベントのため、同一pubkeyはcreated_atが最新のものを採用する。
func (c *Client) FetchProfiles(ctx context.Context, pubkeys []string) (map[string]*model.Profile, error) {
	if len(pubkeys) == 0 {
		return map[string]*model.Profile{}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	subID := "prof-" + uuid.NewString()[:8]
	ch := make(chan profileDelivery, len(pubkeys)+1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("relay client is closed")
	}
	c.profileSubs[subID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.profileSubs, subID)
		c.mu.Unlock()
		if data, err := encodeClose(subID); err == nil {
			_ = c.writeFrame(data)
		}
	}()

	data, err := encodeReq(subID, wireFilter{
		Kinds:   []int{KindProfile},
		Authors: pubkeys,
		Limit:   len(pubkeys),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile request: %w", err)
	}
	if err := c.writeFrame(data); err != nil {
		return nil, fmt.Errorf("failed to send profile request: %w", err)
	}

	result := make(map[string]*model.Profile)
	newest := make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case d, ok := <-ch:
			if !ok {
				return result, fmt.Errorf("relay connection lost")
			}
			if d.eose {
				return result, nil
			}
			p := profileFromEvent(d.event)
			if p == nil {
				continue
			}
			if at, seen := newest[p.Pubkey]; seen && at >= d.event.CreatedAt {
				continue
			}
			newest[p.Pubkey] = d.event.CreatedAt
			result[p.Pubkey] = p
		}
	}
}

// Close はクライアントを閉じる。配信チャンネルは受信ループの終了時に閉じられる。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// writeFrame はフレームを1件送信する。書き込みは直列化される。
func (c *Client) writeFrame(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("relay connection is down")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop はリレーからのフレームを受信し続ける。
// 接続断時は再接続を試み、成功すると登録済みのフィード購読を再発行する。
// Close後の終了時に配信チャンネルを閉じる。
func (c *Client) readLoop() {
	defer close(c.events)

	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed = c.closed
			c.mu.Unlock()
			if closed {
				return
			}

			c.collector.RecordSourceError()
			c.logger.Warn("relay connection lost",
				slog.String("url", c.url),
				slog.String("error", err.Error()),
			)
			c.failProfileSubs()
			c.emitFeedEvent(eventsource.Event{Err: model.NewSourceError(err)})

			if !c.reconnect() {
				return
			}
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("failed to decode relay frame",
				slog.String("error", err.Error()),
			)
			continue
		}
		c.dispatch(f)
	}
}

// dispatch は受信フレームを購読種別ごとに振り分ける。
func (c *Client) dispatch(f *frame) {
	switch f.Type {
	case "EVENT":
		c.mu.Lock()
		profileCh, isProfile := c.profileSubs[f.SubID]
		_, isFeed := c.feedSubs[f.SubID]
		c.mu.Unlock()

		switch {
		case isProfile:
			select {
			case profileCh <- profileDelivery{event: f.Event}:
			default:
				// 取得側が結果を見切った後の配信は捨てる
			}
		case isFeed:
			if rec := recordFromEvent(f.Event); rec != nil {
				c.emitFeedEvent(eventsource.Event{Record: rec})
			}
		}
	case "EOSE":
		c.mu.Lock()
		profileCh, isProfile := c.profileSubs[f.SubID]
		_, isFeed := c.feedSubs[f.SubID]
		c.mu.Unlock()

		switch {
		case isProfile:
			select {
			case profileCh <- profileDelivery{eose: true}:
			default:
			}
		case isFeed:
			c.emitFeedEvent(eventsource.Event{EndOfStored: true})
		}
	case "CLOSED":
		c.mu.Lock()
		delete(c.feedSubs, f.SubID)
		if c.replaceSubID == f.SubID {
			c.replaceSubID = ""
		}
		c.mu.Unlock()
		c.logger.Warn("subscription closed by relay",
			slog.String("sub_id", f.SubID),
			slog.String("message", f.Message),
		)
	case "NOTICE":
		c.logger.Info("relay notice", slog.String("message", f.Message))
	}
}

// emitFeedEvent はフィード配信チャンネルへイベントを送る。
// 消費側が追いつかない場合はブロックせずに破棄する。
func (c *Client) emitFeedEvent(ev eventsource.Event) {
	select {
	case c.events <- ev:
	default:
		c.collector.RecordEventDropped()
		c.logger.Warn("event buffer full, dropping delivery")
	}
}

// failProfileSubs は進行中のプロフィール取得購読をすべて失敗させる。
// 接続断時に呼ばれる。取得側はチャンネルのクローズで失敗を検知する。
func (c *Client) failProfileSubs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for subID, ch := range c.profileSubs {
		close(ch)
		delete(c.profileSubs, subID)
	}
}

// reconnect は指数バックオフでリレーへの再接続を試みる。
// 成功すると登録済みのフィード購読を再発行してtrueを返す。
// Close済みの場合はfalseを返す。
func (c *Client) reconnect() bool {
	delay := reconnectInitialDelay
	for attempt := 1; ; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
		cancel()
		if err != nil {
			c.logger.Warn("relay reconnect failed",
				slog.String("url", c.url),
				slog.Int("attempt", attempt),
				slog.Duration("next_delay", delay),
				slog.String("error", err.Error()),
			)
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		subs := make(map[string]wireFilter, len(c.feedSubs))
		for id, wf := range c.feedSubs {
			subs[id] = wf
		}
		c.mu.Unlock()

		c.logger.Info("relay reconnected",
			slog.String("url", c.url),
			slog.Int("attempt", attempt),
			slog.Int("resubscribing", len(subs)),
		)

		for id, wf := range subs {
			if data, err := encodeReq(id, wf); err == nil {
				if err := c.writeFrame(data); err != nil {
					c.logger.Warn("failed to resubscribe",
						slog.String("sub_id", id),
						slog.String("error", err.Error()),
					)
				}
			}
		}
		return true
	}
}
