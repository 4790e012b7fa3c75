package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound はユーザーが存在しないことを表す。
var ErrNotFound = errors.New("ユーザーが見つかりません")

// User はディレクトリに登録されたユーザー。
type User struct {
	ID        uuid.UUID
	Email     string
	Active    bool
	CreatedAt time.Time
}

// Store はSQLiteに保存したユーザーディレクトリ。
type Store struct {
	db *sql.DB
}

// Open はSQLiteデータベースを開き、スキーマを適用したStoreを返す。
// dsnには "file:/data/tokengate.db" や ":memory:" を指定する。
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため、接続を1つに制限する。
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New は既存の接続からStoreを生成する。
func New(db *sql.DB) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Register はメールアドレスでユーザーを登録する。
// 既に登録済みの場合は既存のユーザーを返す。
func (s *Store) Register(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, errors.New("メールアドレスが空です")
	}

	existing, err := s.FindByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	id := uuid.New()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email) VALUES (?, ?)", id.String(), email,
	); err != nil {
		return User{}, fmt.Errorf("ユーザーの登録に失敗: %w", err)
	}
	return s.FindByID(ctx, id)
}

// FindByID はユーザーIDでユーザーを取得する。
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, active, created_at FROM users WHERE id = ?", id.String())
	return scanUser(row)
}

// FindByEmail はメールアドレスでユーザーを取得する。
func (s *Store) FindByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, active, created_at FROM users WHERE email = ?", email)
	return scanUser(row)
}

// Deactivate はユーザーを無効化する。
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET active = 0 WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("ユーザーの無効化に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Active はユーザーが存在し、有効であるかを返す。
// 存在しないユーザーはエラーではなく false を返す。
func (s *Store) Active(ctx context.Context, id uuid.UUID) (bool, error) {
	u, err := s.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active, nil
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u      User
		id     string
		active int
	)
	if err := row.Scan(&id, &u.Email, &active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return User{}, fmt.Errorf("保存されたユーザーIDが不正です: %w", err)
	}
	u.ID = parsed
	u.Active = active != 0
	return u, nil
}
