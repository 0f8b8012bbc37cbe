package listing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed は停止済みのキューに対する操作で返る。
var ErrQueueClosed = errors.New("autosave queue closed")

// SaveFunc は自動保存キューの書き込み処理。triggerは書き込みのきっかけ。
type SaveFunc func(ctx context.Context, propertyID, step string, values map[string]interface{}, trigger string) error

// timer はtime.Timerのうちキューが使う部分。
type timer interface {
	Stop() bool
}

type draftKey struct {
	propertyID string
	step       string
}

// pendingWrite は1つのキーに対する保留中の書き込み。
type pendingWrite struct {
	values map[string]interface{}
	timer  timer
}

// AutosaveQueue は (物件, ステップ) 単位で書き込みをまとめる自動保存キュー。
// Enqueueのたびに値をマージしてdebounceタイマーを再始動し、タイマー満了時に1回だけ書き込む。
// 同じキーの書き込みは直列化され、後から積んだ値が先に書かれることはない。
type AutosaveQueue struct {
	debounce  time.Duration
	save      SaveFunc
	afterFunc func(d time.Duration, f func()) timer

	mu      sync.Mutex
	pending map[draftKey]*pendingWrite
	writing map[draftKey]*sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewAutosaveQueue はAutosaveQueueを生成する。
func NewAutosaveQueue(debounce time.Duration, save SaveFunc) *AutosaveQueue {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &AutosaveQueue{
		debounce: debounce,
		save:     save,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		pending: make(map[draftKey]*pendingWrite),
		writing: make(map[draftKey]*sync.Mutex),
	}
}

// Enqueue は値を保留中の書き込みにマージし、debounceタイマーを再始動する。
// 停止済みのキューでは何もしない。
func (q *AutosaveQueue) Enqueue(propertyID, step string, values map[string]interface{}) {
	key := draftKey{propertyID: propertyID, step: step}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		slog.Warn("autosave enqueue after close",
			slog.String("property_id", propertyID),
			slog.String("step", step),
		)
		return
	}

	pw, ok := q.pending[key]
	if !ok {
		pw = &pendingWrite{values: make(map[string]interface{}, len(values))}
		q.pending[key] = pw
	}
	for k, v := range values {
		pw.values[k] = v
	}

	q.stopTimer(pw)
	q.wg.Add(1)
	pw.timer = q.afterFunc(q.debounce, func() {
		defer q.wg.Done()
		q.fire(key, pw)
	})
}

// fire はタイマー満了時の書き込み。既に置き換え・書き込み済みなら何もしない。
func (q *AutosaveQueue) fire(key draftKey, expected *pendingWrite) {
	lock := q.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	q.mu.Lock()
	pw, ok := q.pending[key]
	if !ok || pw != expected {
		q.mu.Unlock()
		return
	}
	delete(q.pending, key)
	q.mu.Unlock()

	if err := q.save(context.Background(), key.propertyID, key.step, pw.values, TriggerDebounce); err != nil {
		slog.Error("autosave failed",
			slog.String("property_id", key.propertyID),
			slog.String("step", key.step),
			slog.String("error", err.Error()),
		)
	}
}

// Flush は物件の保留中の書き込みを全て同期的に書き込む。
// 最初に失敗したエラーを返すが、残りのステップの書き込みは続ける。
func (q *AutosaveQueue) Flush(ctx context.Context, propertyID string) error {
	return q.flushMatching(ctx, TriggerFlush, func(k draftKey) bool {
		return k.propertyID == propertyID
	})
}

// SaveNow は保留中の書き込みを破棄し、同じキーの書き込みと直列にwriteを実行する。
// タイマーによる書き込みが実行中なら、その完了を待ってから書き込む。
func (q *AutosaveQueue) SaveNow(ctx context.Context, propertyID, step string, write func(ctx context.Context) error) error {
	key := draftKey{propertyID: propertyID, step: step}

	lock := q.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	q.mu.Lock()
	if pw, ok := q.pending[key]; ok {
		q.stopTimer(pw)
		delete(q.pending, key)
	}
	q.mu.Unlock()

	return write(ctx)
}

// Close は新規の受け付けを止め、保留中の書き込みを全て書き込む。
// 実行中のタイマー書き込みの完了も待つ。
func (q *AutosaveQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.flushMatching(ctx, TriggerShutdown, func(draftKey) bool { return true })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Pending は保留中の書き込み数を返す。
func (q *AutosaveQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *AutosaveQueue) flushMatching(ctx context.Context, trigger string, match func(draftKey) bool) error {
	q.mu.Lock()
	var keys []draftKey
	for k := range q.pending {
		if match(k) {
			keys = append(keys, k)
		}
	}
	q.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		if err := q.flushKey(ctx, key, trigger); err != nil {
			slog.Error("autosave flush failed",
				slog.String("property_id", key.propertyID),
				slog.String("step", key.step),
				slog.String("trigger", trigger),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (q *AutosaveQueue) flushKey(ctx context.Context, key draftKey, trigger string) error {
	lock := q.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	q.mu.Lock()
	pw, ok := q.pending[key]
	if ok {
		q.stopTimer(pw)
		delete(q.pending, key)
	}
	q.mu.Unlock()

	if !ok {
		return nil
	}
	return q.save(ctx, key.propertyID, key.step, pw.values, trigger)
}

// stopTimer はタイマーを止める。止められた場合は待ち合わせのカウントを戻す。
// q.muを保持して呼ぶ。
func (q *AutosaveQueue) stopTimer(pw *pendingWrite) {
	if pw.timer != nil && pw.timer.Stop() {
		q.wg.Done()
	}
	pw.timer = nil
}

func (q *AutosaveQueue) keyLock(key draftKey) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.writing[key]
	if !ok {
		l = &sync.Mutex{}
		q.writing[key] = l
	}
	return l
}
