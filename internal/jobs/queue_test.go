package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryArchive накапливает записи аудита
type memoryArchive struct {
	records []*Job
}

func (a *memoryArchive) Record(job *Job) error {
	a.records = append(a.records, job)
	return nil
}

func TestEnqueueAndGet(t *testing.T) {
	q := NewQueue(nil)

	id, err := q.Enqueue("world-1", "cleanup-terrain-chunks", "cleanup",
		map[string]string{"layerDataId": "data-1"}, 3, 2)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Get("world-1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "cleanup-terrain-chunks", job.Executor)
	assert.Equal(t, "data-1", job.Parameters["layerDataId"])
	assert.True(t, job.Enabled)
	assert.Equal(t, 0, job.RetryCount)
}

func TestEnqueueValidation(t *testing.T) {
	q := NewQueue(nil)

	_, err := q.Enqueue("", "executor", "type", nil, 0, 0)
	require.Error(t, err)

	_, err = q.Enqueue("world-1", "", "type", nil, 0, 0)
	require.Error(t, err)
}

// TestClaimPriorityOrder: высший приоритет первым, при равном — FIFO
func TestClaimPriorityOrder(t *testing.T) {
	q := NewQueue(nil)

	low, _ := q.Enqueue("world-1", "exec", "t", nil, 1, 0)
	firstHigh, _ := q.Enqueue("world-1", "exec", "t", nil, 5, 0)
	secondHigh, _ := q.Enqueue("world-1", "exec", "t", nil, 5, 0)

	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		job, ok := q.ClaimNext()
		require.True(t, ok)
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{firstHigh, secondHigh, low}, got)

	_, ok := q.ClaimNext()
	assert.False(t, ok, "очередь должна быть пуста")
}

func TestClaimSkipsCancelled(t *testing.T) {
	q := NewQueue(nil)

	cancelled, _ := q.Enqueue("world-1", "exec", "t", nil, 5, 0)
	alive, _ := q.Enqueue("world-1", "exec", "t", nil, 1, 0)
	require.NoError(t, q.Cancel("world-1", cancelled))

	job, ok := q.ClaimNext()
	require.True(t, ok)
	assert.Equal(t, alive, job.ID)

	// Отменённая задача осталась видимой, но не исполняется
	got, err := q.Get("world-1", cancelled)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, StatusPending, got.Status)
}

func TestCompleteLifecycle(t *testing.T) {
	q := NewQueue(nil)
	id, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 0)

	// Завершить PENDING нельзя
	err := q.Complete("world-1", id, "результат")
	require.Error(t, err)

	job, ok := q.ClaimNext()
	require.True(t, ok)
	assert.Equal(t, StatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	require.NoError(t, q.Complete("world-1", id, "готово"))
	got, err := q.Get("world-1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "готово", got.Result)
	assert.NotNil(t, got.CompletedAt)

	// Повторное завершение — ошибка
	require.Error(t, q.Complete("world-1", id, "ещё раз"))
}

func TestFailAndRetry(t *testing.T) {
	q := NewQueue(nil)
	id, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 3)

	// Повтор возможен только из FAILED: PENDING отклоняется
	require.Error(t, q.Retry("world-1", id))

	_, ok := q.ClaimNext()
	require.True(t, ok)

	// RUNNING тоже отклоняется
	require.Error(t, q.Retry("world-1", id))
	require.NoError(t, q.Fail("world-1", id, "диск недоступен"))

	failed, err := q.Get("world-1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "диск недоступен", failed.ErrorMessage)

	require.NoError(t, q.Retry("world-1", id))
	retried, err := q.Get("world-1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.ErrorMessage)
	assert.Nil(t, retried.StartedAt)
	assert.Nil(t, retried.CompletedAt)

	// Задача снова доступна воркерам
	job, ok := q.ClaimNext()
	require.True(t, ok)
	assert.Equal(t, id, job.ID)

	// Завершённая задача не повторяется
	require.NoError(t, q.Complete("world-1", id, "готово"))
	require.Error(t, q.Retry("world-1", id))
	done, err := q.Get("world-1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestCancelOnlyPending(t *testing.T) {
	q := NewQueue(nil)
	id, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 0)

	_, ok := q.ClaimNext()
	require.True(t, ok)

	// RUNNING не преемптится
	require.Error(t, q.Cancel("world-1", id))
}

// TestWorldOwnership: чужой мир неотличим от отсутствующей задачи
func TestWorldOwnership(t *testing.T) {
	q := NewQueue(nil)
	id, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 0)

	_, err := q.Get("world-2", id)
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, q.Cancel("world-2", id), ErrJobNotFound)
	require.ErrorIs(t, q.Complete("world-2", id, ""), ErrJobNotFound)
	require.ErrorIs(t, q.HardDelete("world-2", id), ErrJobNotFound)

	_, err = q.Get("world-1", "нет-такой")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestHardDelete(t *testing.T) {
	q := NewQueue(nil)
	id, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 0)

	require.NoError(t, q.HardDelete("world-1", id))
	_, err := q.Get("world-1", id)
	require.ErrorIs(t, err, ErrJobNotFound)

	// Запись в куче устарела и пропускается
	_, ok := q.ClaimNext()
	assert.False(t, ok)
}

func TestListAndCount(t *testing.T) {
	q := NewQueue(nil)
	a, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 0)
	_, _ = q.Enqueue("world-1", "exec", "t", nil, 0, 0)
	_, _ = q.Enqueue("world-2", "exec", "t", nil, 0, 0)

	assert.Len(t, q.List("world-1"), 2)
	assert.Len(t, q.List("world-2"), 1)

	_, ok := q.ClaimNext()
	require.True(t, ok)
	require.NoError(t, q.Complete("world-1", a, ""))

	counts := q.CountByStatus()
	assert.Equal(t, 1, counts[StatusCompleted])
	assert.Equal(t, 2, counts[StatusPending])
}

// TestArchiveRecordsTransitions: аудит получает каждый переход статуса
func TestArchiveRecordsTransitions(t *testing.T) {
	archive := &memoryArchive{}
	q := NewQueue(archive)

	id, _ := q.Enqueue("world-1", "exec", "t", nil, 0, 1)
	_, ok := q.ClaimNext()
	require.True(t, ok)
	require.NoError(t, q.Fail("world-1", id, "ошибка"))
	require.NoError(t, q.Retry("world-1", id))

	statuses := make([]Status, 0, len(archive.records))
	for _, rec := range archive.records {
		statuses = append(statuses, rec.Status)
	}
	assert.Equal(t, []Status{StatusPending, StatusRunning, StatusFailed, StatusPending}, statuses)
}

// Сбой аудита не ломает очередь
type failingArchive struct{}

func (failingArchive) Record(*Job) error { return errors.New("архив недоступен") }

func TestArchiveFailureTolerated(t *testing.T) {
	q := NewQueue(failingArchive{})

	id, err := q.Enqueue("world-1", "exec", "t", nil, 0, 0)
	require.NoError(t, err)
	job, err := q.Get("world-1", id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
}
