package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/mealdash/internal/model"
)

// insertProfileQuery はプロフィールを冪等に作成するクエリ。
// 既に行が存在する場合は何もしない。
const insertProfileQuery = `INSERT INTO profiles (id, email, full_name, phone, role, avatar_url,
	total_orders, points, rating, member_since, created_at, updated_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
 ON CONFLICT (id) DO NOTHING`

const selectProfileColumns = `id, email, full_name, phone, role, avatar_url,
	total_orders, points, rating, member_since, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	profile, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+selectProfileColumns+` FROM profiles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// InsertIfAbsent はプロフィールが存在しない場合のみ作成し、保存済みの行を返す。
func (r *PostgresProfileRepo) InsertIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	if _, err := r.db.ExecContext(ctx, insertProfileQuery, profileInsertArgs(profile)...); err != nil {
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}

	stored, err := r.FindByID(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("profile disappeared after insert: %s", profile.ID)
	}
	return stored, nil
}

// Update は部分更新を適用しupdated_atを更新する。
// nilのフィールドはSET句に含めない。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) (bool, error) {
	sets := []string{}
	args := []any{}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.FullName != nil {
		add("full_name", *update.FullName)
	}
	if update.Phone != nil {
		add("phone", *update.Phone)
	}
	if update.AvatarURL != nil {
		add("avatar_url", *update.AvatarURL)
	}
	if update.TotalOrders != nil {
		add("total_orders", *update.TotalOrders)
	}
	if update.Points != nil {
		add("points", *update.Points)
	}
	if update.Rating != nil {
		add("rating", *update.Rating)
	}
	add("updated_at", updatedAt)

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func profileInsertArgs(p *model.Profile) []any {
	return []any{
		p.ID, p.Email, p.FullName, p.Phone, string(p.Role), p.AvatarURL,
		p.TotalOrders, p.Points, p.Rating, p.MemberSince, p.CreatedAt, p.UpdatedAt,
	}
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Phone, &role, &p.AvatarURL,
		&p.TotalOrders, &p.Points, &p.Rating, &p.MemberSince, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
