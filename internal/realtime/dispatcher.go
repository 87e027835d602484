package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Dispatcher выполняет задачи рассылки в ограниченном пуле воркеров.
// Отправка fire-and-forget: при заполненной очереди задача отбрасывается,
// вызывающая сторона никогда не блокируется.
type Dispatcher struct {
	tasks   chan func(context.Context)
	timeout time.Duration
	logger  *zap.Logger
	dropped atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

// NewDispatcher создаёт пул с указанным числом воркеров и размером очереди.
func NewDispatcher(workers, queueSize int, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		tasks:   make(chan func(context.Context), queueSize),
		timeout: 5 * time.Second,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for fn := range d.tasks {
		// Контексты задач наследуют контекст пула: остановка пула
		// прерывает и ещё не завершённые отправки.
		ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
		fn(ctx)
		cancel()
	}
}

// Submit ставит задачу в очередь. Возвращает false, если очередь заполнена
// или пул остановлен и задача отброшена.
func (d *Dispatcher) Submit(fn func(context.Context)) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("dispatcher closed, dropping task")
		return false
	}

	select {
	case d.tasks <- fn:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("dispatch queue full, dropping task")
		return false
	}
}

// Dropped возвращает число отброшенных задач.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close останавливает пул и дожидается воркеров. Контексты выполняющихся задач
// отменяются. Submit после Close безопасен и отбрасывает задачу. Повторный
// вызов не имеет эффекта.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
