// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrations はusers/roles/subscriptions/tokens/oauth_tokensのスキーマ。
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion は適用済みスキーマのバージョン。
type SchemaVersion struct {
	Version uint
	// Dirty は途中で失敗したマイグレーションが残っていることを示す。
	Dirty bool
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用し、適用後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) (SchemaVersion, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("failed to run migrations: %w", err)
	}
	return currentVersion(m)
}

// RollbackMigrations はstepsの数だけマイグレーションを戻し、戻した後のバージョンを返す。
func RollbackMigrations(databaseURL string, steps int) (SchemaVersion, error) {
	if steps <= 0 {
		return SchemaVersion{}, fmt.Errorf("rollback steps must be positive, got %d", steps)
	}

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaVersion{}, fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return currentVersion(m)
}

// CurrentVersion は適用済みスキーマのバージョンを返す。未適用の場合はVersion 0。
func CurrentVersion(databaseURL string) (SchemaVersion, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	return currentVersion(m)
}

func currentVersion(m *migrate.Migrate) (SchemaVersion, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaVersion{Version: version, Dirty: dirty}, nil
}
