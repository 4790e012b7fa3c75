package directory

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/tokengate/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はユーザーディレクトリのマイグレーションを適用する。
func initSchema(db *sql.DB) error {
	_, err := migration.NewRunner(db, nil).Run(context.Background(), migrationsFS, "migrations")
	return err
}
