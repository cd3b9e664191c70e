package terrain

import (
	"errors"
	"fmt"
)

// Ошибки-сентинелы для проверки через errors.Is.
var (
	ErrLayerNotFound = errors.New("слой не найден")
	ErrModelNotFound = errors.New("модель не найдена")
	ErrFlatNotFound  = errors.New("flat не найден")
	ErrChunkNotFound = errors.New("чанк не найден")
)

// ValidationError описывает отклонённый по валидации ввод.
// Причина формулируется человекочитаемо и никогда не глотается.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ошибка валидации: %s", e.Reason)
}

// NewValidationError создаёт ValidationError с форматированной причиной
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation сообщает, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError означает конфликт идентификаторов (дубликат id/имени).
// Отделён от валидации, чтобы вызывающий мог выбрать другой идентификатор.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("конфликт: %s %q уже существует", e.Resource, e.Key)
}

// IsConflict сообщает, является ли ошибка конфликтом идентификаторов
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
