package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHTTPAddr          = ":8080"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultSendQueueSize     = 256
	DefaultMaxFrameBytes     = 64 * 1024
	DefaultHistoryLimit      = 50
	DefaultTypingIdle        = 1000 * time.Millisecond
)

func (c *ServerConfig) applyDefaults() {
	// HTTP defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Transport defaults
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PongTimeout == 0 {
		c.Transport.PongTimeout = DefaultPongTimeout
	}
	if c.Transport.SendQueueSize == 0 {
		c.Transport.SendQueueSize = DefaultSendQueueSize
	}
	if c.Transport.MaxFrameBytes == 0 {
		c.Transport.MaxFrameBytes = DefaultMaxFrameBytes
	}

	// Chat defaults
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = DefaultHistoryLimit
	}
	if c.Chat.TypingIdle == 0 {
		c.Chat.TypingIdle = DefaultTypingIdle
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
