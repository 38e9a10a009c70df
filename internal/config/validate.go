package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}

	if c.Transport.SendQueueSize < 1 {
		return errors.New("transport.send_queue_size must be >= 1")
	}
	if c.Transport.MaxFrameBytes < 1 {
		return errors.New("transport.max_frame_bytes must be >= 1")
	}
	if c.Transport.PongTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.pong_timeout (%v) must exceed ping_interval (%v)",
			c.Transport.PongTimeout, c.Transport.PingInterval)
	}

	if c.Chat.HistoryLimit < 1 {
		return errors.New("chat.history_limit must be >= 1")
	}
	if c.Chat.TypingIdle <= 0 {
		return errors.New("chat.typing_idle must be positive")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
