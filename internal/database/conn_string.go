package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/roomchat/internal/config"
)

// BuildConnString builds a PostgreSQL connection string from config.
// Credentials are URL-escaped; an unset ssl_mode falls back to the
// config default so hand-built DBConfig values behave like loaded ones.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
