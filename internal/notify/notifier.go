package notify

import (
	"context"

	"github.com/annel0/terrain-engine/internal/logging"
)

// Notifier — коллаборатор сессий: доставляет команды клиентским сессиям
// в режиме fire-and-forget. Сбои доставки логируются, но никогда не
// прерывают вызывающую операцию.
type Notifier interface {
	// Notify отправляет команду конкретной сессии мира.
	Notify(ctx context.Context, worldID, sessionID, command string, args map[string]string) error

	// Broadcast отправляет команду всем сессиям мира (sessionID пустой).
	Broadcast(ctx context.Context, worldID, command string, args map[string]string) error

	// Close закрывает соединение.
	Close() error
}

// NoopNotifier отбрасывает все уведомления; используется по умолчанию
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, worldID, sessionID, command string, args map[string]string) error {
	return nil
}

func (NoopNotifier) Broadcast(ctx context.Context, worldID, command string, args map[string]string) error {
	return nil
}

func (NoopNotifier) Close() error { return nil }

// LogNotifier пишет уведомления в лог; удобен для отладки и тестов
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, worldID, sessionID, command string, args map[string]string) error {
	logging.Debug("notify world=%s session=%s command=%s args=%v", worldID, sessionID, command, args)
	return nil
}

func (LogNotifier) Broadcast(ctx context.Context, worldID, command string, args map[string]string) error {
	logging.Debug("broadcast world=%s command=%s args=%v", worldID, command, args)
	return nil
}

func (LogNotifier) Close() error { return nil }
