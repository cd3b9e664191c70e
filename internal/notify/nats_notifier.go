package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/terrain-engine/internal/logging"
)

// NATSNotifier доставляет команды сессиям через NATS Pub/Sub.
// Subject: <prefix>.<worldID>.<sessionID> для адресных команд и
// <prefix>.<worldID>.all для широковещательных.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	nodeID  string
}

// NotifierConfig содержит конфигурацию NATS соединения
type NotifierConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// SessionCommand — полезная нагрузка уведомления
type SessionCommand struct {
	WorldID   string            `json:"world_id"`
	SessionID string            `json:"session_id,omitempty"`
	Command   string            `json:"command"`
	Args      map[string]string `json:"args,omitempty"`
	NodeID    string            `json:"node_id"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewNATSNotifier подключается к NATS и возвращает нотификатор
func NewNATSNotifier(config *NotifierConfig, nodeID string) (*NATSNotifier, error) {
	if config.Subject == "" {
		config.Subject = "terrain.session"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logging.Info("NATS notifier initialized: %s (subject: %s)", config.URL, config.Subject)
	return &NATSNotifier{conn: conn, subject: config.Subject, nodeID: nodeID}, nil
}

// Notify отправляет команду конкретной сессии мира
func (n *NATSNotifier) Notify(ctx context.Context, worldID, sessionID, command string, args map[string]string) error {
	return n.publish(fmt.Sprintf("%s.%s.%s", n.subject, worldID, sessionID), SessionCommand{
		WorldID:   worldID,
		SessionID: sessionID,
		Command:   command,
		Args:      args,
		NodeID:    n.nodeID,
		Timestamp: time.Now().UTC(),
	})
}

// Broadcast отправляет команду всем сессиям мира
func (n *NATSNotifier) Broadcast(ctx context.Context, worldID, command string, args map[string]string) error {
	return n.publish(fmt.Sprintf("%s.%s.all", n.subject, worldID), SessionCommand{
		WorldID:   worldID,
		Command:   command,
		Args:      args,
		NodeID:    n.nodeID,
		Timestamp: time.Now().UTC(),
	})
}

func (n *NATSNotifier) publish(subject string, cmd SessionCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal session command: %w", err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close закрывает соединение с NATS
func (n *NATSNotifier) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
