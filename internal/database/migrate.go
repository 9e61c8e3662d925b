// Package database はPostgreSQLへの接続と、埋め込みSQLによるスキーマ管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// NewMigrator は埋め込みのusers・otps・credentialsスキーマをsourceとするMigrateを返す。
// 呼び出し側がCloseすること。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded schema: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のスキーマ変更をすべて適用する。適用済みなら何もしない。
// 途中で失敗してdirtyになったスキーマは手動での修復が必要なのでエラーにする。
func RunMigrations(databaseURL string) (err error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	switch upErr := m.Up(); {
	case errors.Is(upErr, migrate.ErrNoChange):
	case upErr != nil:
		return fmt.Errorf("apply schema: %w", upErr)
	}

	version, dirty, verErr := m.Version()
	switch {
	case errors.Is(verErr, migrate.ErrNilVersion):
		return errors.New("no schema version recorded after migrate up")
	case verErr != nil:
		return fmt.Errorf("read schema version: %w", verErr)
	case dirty:
		return fmt.Errorf("schema version %d is dirty", version)
	}

	slog.Info("schema is up to date", slog.Uint64("version", uint64(version)))
	return nil
}
