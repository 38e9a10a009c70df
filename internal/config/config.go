package config

import "time"

// ServerConfig is the root configuration for a chat server instance.
type ServerConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Transport TransportConfig `yaml:"transport"`
	Chat      ChatConfig      `yaml:"chat"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection for durable chat state.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// TransportConfig holds per-connection WebSocket settings.
type TransportConfig struct {
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	PongTimeout   time.Duration `yaml:"pong_timeout"`
	SendQueueSize int           `yaml:"send_queue_size"`
	MaxFrameBytes int64         `yaml:"max_frame_bytes"`
}

// ChatConfig holds protocol-level settings.
type ChatConfig struct {
	HistoryLimit int           `yaml:"history_limit"` // messages replayed on join
	TypingIdle   time.Duration `yaml:"typing_idle"`   // typing expiry without renewal
}
