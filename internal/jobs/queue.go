package jobs

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/terrain-engine/internal/logging"
)

// Status — состояние жизненного цикла задачи
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ErrJobNotFound возвращается для отсутствующей задачи либо задачи,
// не принадлежащей указанному миру
var ErrJobNotFound = errors.New("задача не найдена")

// Job — асинхронная именованная операция. Исполнители разрешаются по
// имени внешним реестром; очередь хранит только контракт.
type Job struct {
	ID           string            `json:"id"`
	WorldID      string            `json:"world_id"`
	Executor     string            `json:"executor"`
	Type         string            `json:"type"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Status       Status            `json:"status"`
	Priority     int               `json:"priority"`
	MaxRetries   int               `json:"max_retries"`
	RetryCount   int               `json:"retry_count"`
	Result       string            `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Enabled      bool              `json:"enabled"` // false — мягко отменена

	seq uint64 // порядок создания для FIFO при равном приоритете
}

// Clone возвращает копию задачи
func (j *Job) Clone() *Job {
	c := *j
	if j.Parameters != nil {
		c.Parameters = make(map[string]string, len(j.Parameters))
		for k, v := range j.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

// JobArchive получает задачи при смене статуса для аудита/персистентности.
// Сбои аудита не влияют на очередь.
type JobArchive interface {
	Record(job *Job) error
}

// Queue — приоритетная очередь задач. Выдача: приоритет по убыванию,
// при равном приоритете FIFO по времени создания. Захват атомарен
// (PENDING -> RUNNING под общим мьютексом): у задачи не бывает двух
// исполнителей. Преемптивной отмены RUNNING-задач нет.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	pending pendingHeap
	nextSeq uint64
	archive JobArchive
}

// NewQueue создаёт очередь; archive может быть nil
func NewQueue(archive JobArchive) *Queue {
	return &Queue{
		jobs:    make(map[string]*Job),
		archive: archive,
	}
}

// Create ставит новую задачу в статусе PENDING
func (q *Queue) Create(worldID, executor, jobType string, parameters map[string]string, priority, maxRetries int) (*Job, error) {
	if worldID == "" {
		return nil, fmt.Errorf("worldID обязателен")
	}
	if executor == "" {
		return nil, fmt.Errorf("имя исполнителя обязательно")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	job := &Job{
		ID:         uuid.NewString(),
		WorldID:    worldID,
		Executor:   executor,
		Type:       jobType,
		Parameters: parameters,
		Status:     StatusPending,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
		Enabled:    true,
		seq:        q.nextSeq,
	}
	q.jobs[job.ID] = job
	heap.Push(&q.pending, job)

	q.record(job)
	return job.Clone(), nil
}

// Enqueue — укороченная форма Create, возвращающая только id задачи
func (q *Queue) Enqueue(worldID, executor, jobType string, parameters map[string]string, priority, maxRetries int) (string, error) {
	job, err := q.Create(worldID, executor, jobType, parameters, priority, maxRetries)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// ClaimNext атомарно захватывает следующую PENDING-задачу (PENDING ->
// RUNNING). Мягко отменённые задачи пропускаются и не исполняются.
func (q *Queue) ClaimNext() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending.Len() > 0 {
		job := heap.Pop(&q.pending).(*Job)
		// Задача могла быть отменена, удалена или переведена вручную
		current, ok := q.jobs[job.ID]
		if !ok || current.Status != StatusPending || !current.Enabled {
			continue
		}
		now := time.Now().UTC()
		current.Status = StatusRunning
		current.StartedAt = &now
		q.record(current)
		return current.Clone(), true
	}
	return nil, false
}

// Complete фиксирует успешное завершение задачи
func (q *Queue) Complete(worldID, jobID, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.owned(worldID, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusRunning {
		return fmt.Errorf("завершение возможно только из RUNNING, задача %s в статусе %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.Result = result
	q.record(job)
	return nil
}

// Fail фиксирует неуспешное завершение задачи
func (q *Queue) Fail(worldID, jobID, errorMessage string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.owned(worldID, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusRunning {
		return fmt.Errorf("провал возможен только из RUNNING, задача %s в статусе %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = StatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = errorMessage
	q.record(job)
	return nil
}

// Retry возвращает FAILED-задачу в PENDING, очищая время исполнения и
// сообщение об ошибке. Из любого другого статуса — отклоняется.
func (q *Queue) Retry(worldID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.owned(worldID, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusFailed {
		return fmt.Errorf("повтор возможен только из FAILED, задача %s в статусе %s", jobID, job.Status)
	}

	job.Status = StatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ErrorMessage = ""
	job.RetryCount++
	heap.Push(&q.pending, job)
	q.record(job)
	return nil
}

// Cancel мягко отменяет задачу: отключает без исполнения.
// Действует только на PENDING-задачи; RUNNING не преемптится.
func (q *Queue) Cancel(worldID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.owned(worldID, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusPending {
		return fmt.Errorf("отмена возможна только из PENDING, задача %s в статусе %s", jobID, job.Status)
	}

	job.Enabled = false
	q.record(job)
	return nil
}

// HardDelete физически удаляет задачу
func (q *Queue) HardDelete(worldID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.owned(worldID, jobID); err != nil {
		return err
	}
	delete(q.jobs, jobID)
	return nil
}

// Get возвращает задачу мира
func (q *Queue) Get(worldID, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.owned(worldID, jobID)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// List возвращает все задачи мира
func (q *Queue) List(worldID string) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Job
	for _, job := range q.jobs {
		if job.WorldID == worldID {
			out = append(out, job.Clone())
		}
	}
	return out
}

// CountByStatus возвращает распределение задач по статусам
func (q *Queue) CountByStatus() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[Status]int)
	for _, job := range q.jobs {
		counts[job.Status]++
	}
	return counts
}

// owned возвращает задачу с проверкой принадлежности миру.
// Чужой мир неотличим от отсутствия задачи.
func (q *Queue) owned(worldID, jobID string) (*Job, error) {
	job, ok := q.jobs[jobID]
	if !ok || job.WorldID != worldID {
		return nil, fmt.Errorf("задача %s мира %s: %w", jobID, worldID, ErrJobNotFound)
	}
	return job, nil
}

func (q *Queue) record(job *Job) {
	if q.archive == nil {
		return
	}
	if err := q.archive.Record(job.Clone()); err != nil {
		// Аудит не должен ломать очередь
		logging.Warn("Не удалось записать аудит задачи %s: %v", job.ID, err)
	}
}

// pendingHeap упорядочивает PENDING-задачи: приоритет по убыванию,
// затем FIFO по порядку создания
type pendingHeap []*Job

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
