package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
)

var userColumns = []any{"id", "name", "role", "is_defaulter", "created_at"}

type userRepository struct {
	c *conn
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now().UTC()

	query := `INSERT INTO users (id, name, role, is_defaulter, created_at) VALUES ($1, $2, $3, $4, $5)`
	logger.DatabaseCall("users.create", query, "user_id", u.ID)
	_, err := r.c.primary.ExecContext(ctx, query, u.ID, u.Name, string(u.Role), u.IsDefaulter, u.CreatedAt)
	return classify(err)
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	ds := dialect.From(tableUsers).Select(userColumns...).Where(goqu.C("id").Eq(id.String()))
	if err := r.c.get(ctx, &u, ds); err != nil {
		return nil, notFound(err, "user %s", id)
	}
	return &u, nil
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	users := []domain.User{}
	ds := dialect.From(tableUsers).Select(userColumns...).Order(goqu.C("name").Asc(), goqu.C("id").Asc())
	if err := r.c.selectAll(ctx, &users, ds); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) SetDefaulter(ctx context.Context, id uuid.UUID, isDefaulter bool) error {
	query := `UPDATE users SET is_defaulter = $1 WHERE id = $2`
	res, err := r.c.primary.ExecContext(ctx, query, isDefaulter, id)
	if err != nil {
		return classify(err)
	}
	n, err := rowsAffected(res)
	logger.DatabaseResult("users.set_defaulter", n, err, "user_id", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return nil
}
