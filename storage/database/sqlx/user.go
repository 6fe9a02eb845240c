package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/user"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func columnList(columns []string) string {
	return strings.Join(columns, ", ")
}

type userRow struct {
	ID                    string      `db:"id"`
	Name                  null.String `db:"name"`
	Username              null.String `db:"username"`
	Email                 null.String `db:"email"`
	Role                  string      `db:"role"`
	Status                string      `db:"status"`
	RollNumber            null.String `db:"roll_number"`
	Batch                 null.String `db:"batch"`
	PasswordHash          null.Bytes  `db:"password_hash"`
	Points                int         `db:"points"`
	TotalTimeSpentSeconds int         `db:"total_time_spent_seconds"`
	LastActivityAt        null.Time   `db:"last_activity_at"`
	LastPointAwardAt      null.Time   `db:"last_point_award_at"`
	CreatedAt             null.Time   `db:"created_at"`
	UpdatedAt             null.Time   `db:"updated_at"`
	LastLogin             null.Time   `db:"last_login"`
}

var userColumns = []string{
	"id", "name", "username", "email", "role", "status", "roll_number", "batch",
	"password_hash", "points", "total_time_spent_seconds", "last_activity_at",
	"last_point_award_at", "created_at", "updated_at", "last_login",
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) toRow(usr user.User) userRow {
	return userRow{
		ID:                    usr.ID,
		Name:                  null.NewString(usr.Name, usr.Name != ""),
		Username:              null.NewString(usr.Username, usr.Username != ""),
		Email:                 null.NewString(usr.Email, usr.Email != ""),
		Role:                  usr.Role,
		Status:                usr.Status,
		RollNumber:            null.NewString(usr.RollNumber, usr.RollNumber != ""),
		Batch:                 null.NewString(usr.Batch, usr.Batch != ""),
		PasswordHash:          null.BytesFrom(usr.PasswordHash),
		Points:                usr.Points,
		TotalTimeSpentSeconds: usr.TotalTimeSpentSeconds,
		LastActivityAt:        null.NewTime(usr.LastActivityAt.UTC(), !usr.LastActivityAt.IsZero()),
		LastPointAwardAt:      null.NewTime(usr.LastPointAwardAt.UTC(), !usr.LastPointAwardAt.IsZero()),
		CreatedAt:             null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:             null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:             null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	return user.User{
		ID:                    row.ID,
		Name:                  row.Name.String,
		Username:              row.Username.String,
		Email:                 row.Email.String,
		Role:                  row.Role,
		Status:                row.Status,
		RollNumber:            row.RollNumber.String,
		Batch:                 row.Batch.String,
		PasswordHash:          row.PasswordHash.Bytes,
		Points:                row.Points,
		TotalTimeSpentSeconds: row.TotalTimeSpentSeconds,
		LastActivityAt:        row.LastActivityAt.Time,
		LastPointAwardAt:      row.LastPointAwardAt.Time,
		CreatedAt:             row.CreatedAt.Time,
		UpdatedAt:             row.UpdatedAt.Time,
		LastLogin:             row.LastLogin.Time,
	}
}

func (repo userRepository) fromRows(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User) error {
	check := func(column, value string, clashErr error) error {
		if value == "" {
			return nil
		}
		qb := psql.Select("COUNT(*)").From(`"user"`).Where(sq.Eq{column: value})
		if len(excludedUsers) > 0 {
			ids := make([]string, 0, len(excludedUsers))
			for _, u := range excludedUsers {
				ids = append(ids, u.ID)
			}
			qb = qb.Where(sq.NotEq{"id": ids})
		}
		query, args, err := qb.ToSql()
		if err != nil {
			return errors.Wrap(err, "building uniqueness query")
		}
		var cnt int
		if err = repo.db.GetContext(ctx, &cnt, query, args...); err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if cnt > 0 {
			return clashErr
		}
		return nil
	}

	if err := check("username", username, user.ErrUsernameExists); err != nil {
		return err
	}
	return check("email", email, user.ErrEmailExists)
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := repo.toRow(usr)
	query, args, err := psql.
		Insert(`"user"`).
		Columns(userColumns...).
		Values(
			row.ID, row.Name, row.Username, row.Email, row.Role, row.Status,
			row.RollNumber, row.Batch, row.PasswordHash, row.Points,
			row.TotalTimeSpentSeconds, row.LastActivityAt, row.LastPointAwardAt,
			row.CreatedAt, row.UpdatedAt, row.LastLogin,
		).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user insert")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	return repo.FilterUsers(ctx, nil, nil)
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	query, args, err := psql.Select(userColumns...).From(`"user"`).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user query")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by ID")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From(`"user"`).
		Where(sq.Or{sq.Eq{"username": username}, sq.Eq{"email": username}}).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user query")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) FilterUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	qb := psql.Select(userColumns...).From(`"user"`)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"name": val},
				sq.ILike{"username": val},
				sq.ILike{"email": val},
			})
		}
		if filter.Role != "" {
			qb = qb.Where(sq.Eq{"role": filter.Role})
		}
		if filter.Status != "" {
			qb = qb.Where(sq.Eq{"status": filter.Status})
		}
		if filter.Batch != "" {
			qb = qb.Where(sq.Eq{"batch": filter.Batch})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}

	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building users query")
	}
	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.fromRows(rows), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := repo.toRow(usr)
	query, args, err := psql.
		Update(`"user"`).
		Set("name", row.Name).
		Set("username", row.Username).
		Set("email", row.Email).
		Set("role", row.Role).
		Set("status", row.Status).
		Set("roll_number", row.RollNumber).
		Set("batch", row.Batch).
		Set("password_hash", row.PasswordHash).
		Set("updated_at", row.UpdatedAt).
		Where(sq.Eq{"id": row.ID}).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user update")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo userRepository) SetLastLogin(ctx context.Context, usr user.User, at time.Time) (user.User, error) {
	query, args, err := psql.
		Update(`"user"`).
		Set("last_login", at.UTC()).
		Where(sq.Eq{"id": usr.ID}).
		ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building last-login update")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return user.User{}, errors.Wrap(err, "updating last login")
	}
	usr.LastLogin = at.UTC()
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string) error {
	query, args, err := psql.Delete(`"user"`).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building users delete")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (repo userRepository) AddUserTime(ctx context.Context, id string, delta int, at time.Time) error {
	_, err := repo.db.ExecContext(ctx, `
		UPDATE "user"
		SET total_time_spent_seconds = total_time_spent_seconds + $2,
		    last_activity_at         = $3,
		    updated_at               = $3
		WHERE id = $1`,
		id, delta, at.UTC(),
	)
	return errors.Wrap(err, "adding user time")
}

// AwardPoints applies the cooldown check and the increment in one statement
// so concurrent award attempts cannot both pass the check.
func (repo userRepository) AwardPoints(ctx context.Context, id string, points int, cooldown time.Duration, at time.Time) (bool, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE "user"
		SET points              = points + $2,
		    last_point_award_at = $3,
		    updated_at          = $3
		WHERE id = $1
		  AND (last_point_award_at IS NULL OR last_point_award_at <= $4)`,
		id, points, at.UTC(), at.UTC().Add(-cooldown),
	)
	if err != nil {
		return false, errors.Wrap(err, "awarding points")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "awarding points")
	}
	return cnt > 0, nil
}
