package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/annel0/terrain-engine/internal/logging"
)

// ExecutorFunc выполняет задачу и возвращает результат для записи в Job.Result
type ExecutorFunc func(ctx context.Context, job *Job) (string, error)

// ExecutorRegistry сопоставляет имена исполнителей функциям
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]ExecutorFunc
}

// NewExecutorRegistry создаёт пустой реестр исполнителей
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[string]ExecutorFunc)}
}

// Register регистрирует исполнителя по имени
func (r *ExecutorRegistry) Register(name string, fn ExecutorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = fn
}

// Resolve возвращает исполнителя по имени
func (r *ExecutorRegistry) Resolve(name string) (ExecutorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[name]
	return fn, ok
}

// WorkerPool опрашивает очередь и исполняет задачи пулом горутин.
// Провалившиеся задачи автоматически перезапускаются, пока не
// исчерпан лимит повторов.
type WorkerPool struct {
	queue     *Queue
	registry  *ExecutorRegistry
	workers   int
	pollEvery time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool создаёт пул; workers <= 0 трактуется как 1
func NewWorkerPool(queue *Queue, registry *ExecutorRegistry, workers int, pollEvery time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:     queue,
		registry:  registry,
		workers:   workers,
		pollEvery: pollEvery,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start запускает воркеры
func (p *WorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	logging.Info("Пул задач запущен: %d воркеров, опрос каждые %v", p.workers, p.pollEvery)
}

// Stop останавливает воркеры и ждёт завершения текущих задач
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	logging.Info("Пул задач остановлен")
}

func (p *WorkerPool) runWorker(id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// Выгребаем всё доступное, потом снова спим
			for {
				job, ok := p.queue.ClaimNext()
				if !ok {
					break
				}
				p.execute(job)
				if p.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func (p *WorkerPool) execute(job *Job) {
	tracer := otel.Tracer("terrain-engine/jobs")
	ctx, span := tracer.Start(p.ctx, "jobs.execute")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.world_id", job.WorldID),
		attribute.String("job.executor", job.Executor),
		attribute.Int("job.retry_count", job.RetryCount),
	)
	defer span.End()

	fn, ok := p.registry.Resolve(job.Executor)
	if !ok {
		err := fmt.Errorf("неизвестный исполнитель %s", job.Executor)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(job, err)
		return
	}

	result, err := fn(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(job, err)
		return
	}

	if cErr := p.queue.Complete(job.WorldID, job.ID, result); cErr != nil {
		logging.Error("Не удалось завершить задачу %s: %v", job.ID, cErr)
		return
	}
	logging.Debug("Задача %s (%s) выполнена", job.ID, job.Executor)
}

func (p *WorkerPool) fail(job *Job, execErr error) {
	if err := p.queue.Fail(job.WorldID, job.ID, execErr.Error()); err != nil {
		logging.Error("Не удалось пометить задачу %s проваленной: %v", job.ID, err)
		return
	}
	logging.Warn("Задача %s (%s) провалена: %v", job.ID, job.Executor, execErr)

	if job.RetryCount < job.MaxRetries {
		if err := p.queue.Retry(job.WorldID, job.ID); err != nil {
			logging.Error("Не удалось перезапустить задачу %s: %v", job.ID, err)
			return
		}
		logging.Info("Задача %s поставлена на повтор (%d/%d)", job.ID, job.RetryCount+1, job.MaxRetries)
	}
}
