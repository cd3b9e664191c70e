package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/terrain-engine/internal/jobs"
)

// MariaJobArchive пишет снимки задач в MariaDB для аудита: каждая
// смена статуса — отдельная строка. Реализует jobs.JobArchive.
type MariaJobArchive struct {
	db *sql.DB
}

// NewMariaJobArchive создает архив задач для MariaDB.
// Автоматически создает таблицу, если она не существует.
func NewMariaJobArchive(dsn string) (*MariaJobArchive, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	archive := &MariaJobArchive{db: db}

	if err := archive.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return archive, nil
}

func (a *MariaJobArchive) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS terrain_job_audit (
			audit_id      BIGINT       AUTO_INCREMENT PRIMARY KEY,
			job_id        VARCHAR(36)  NOT NULL,
			world_id      VARCHAR(64)  NOT NULL,
			executor      VARCHAR(64)  NOT NULL,
			job_type      VARCHAR(64),
			status        VARCHAR(16)  NOT NULL,
			priority      INT          NOT NULL,
			retry_count   INT          NOT NULL,
			parameters    JSON,
			result        TEXT,
			error_message TEXT,
			recorded_at   TIMESTAMP    DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_job (job_id),
			INDEX idx_world (world_id),
			INDEX idx_recorded_at (recorded_at)
		) ENGINE=InnoDB
	`
	if _, err := a.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы terrain_job_audit: %w", err)
	}
	return nil
}

// Record сохраняет снимок текущего состояния задачи
func (a *MariaJobArchive) Record(job *jobs.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("ошибка сериализации параметров задачи: %w", err)
	}

	query := `
		INSERT INTO terrain_job_audit
			(job_id, world_id, executor, job_type, status, priority,
			 retry_count, parameters, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = a.db.Exec(query,
		job.ID, job.WorldID, job.Executor, job.Type, string(job.Status),
		job.Priority, job.RetryCount, params, job.Result, job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита задачи %s: %w", job.ID, err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (a *MariaJobArchive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
