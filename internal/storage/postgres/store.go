package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultConnTimeout = 5 * time.Second

// poolSettings — параметры пула соединений. Значения по умолчанию рассчитаны
// на один инстанс сервиса заказов с прямым подключением к базе.
type poolSettings struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
}

func defaultPoolSettings() poolSettings {
	return poolSettings{
		maxOpenConns:    25,
		maxIdleConns:    25,
		connMaxLifetime: 30 * time.Minute,
		connMaxIdleTime: 5 * time.Minute,
	}
}

// StoreOption настраивает Store при открытии.
type StoreOption func(*poolSettings)

// WithMaxConns задаёт потолок открытых и idle-соединений пула.
func WithMaxConns(n int) StoreOption {
	return func(s *poolSettings) {
		if n > 0 {
			s.maxOpenConns = n
			s.maxIdleConns = n
		}
	}
}

// WithConnLifetime задаёт максимальное время жизни соединения.
func WithConnLifetime(d time.Duration) StoreOption {
	return func(s *poolSettings) {
		if d > 0 {
			s.connMaxLifetime = d
		}
	}
}

// Store оборачивает SQL-подключение к PostgreSQL. Все репозитории пакета —
// заказы, рецепты, котировки, webhook locks и outbox событий — строятся
// поверх одного Store и делят его пул соединений.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...StoreOption) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	settings := defaultPoolSettings()
	for _, option := range options {
		option(&settings)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(settings.maxOpenConns)
	db.SetMaxIdleConns(settings.maxIdleConns)
	db.SetConnMaxLifetime(settings.connMaxLifetime)
	db.SetConnMaxIdleTime(settings.connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции. Вызывается на старте сервиса,
// когда включён авто-migrate.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
