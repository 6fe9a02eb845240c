package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/activity"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of
		// User.Name, User.Username or User.Email.
		FilterUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		SetLastLogin(ctx context.Context, usr User, at time.Time) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string) error

		// AddUserTime atomically adds delta seconds to the user's global
		// time counter and refreshes last_activity_at.
		AddUserTime(ctx context.Context, id string, delta int, at time.Time) error
		// AwardPoints atomically adds points iff the last award is older
		// than cooldown; reports whether the award was applied.
		AwardPoints(ctx context.Context, id string, points int, cooldown time.Duration, at time.Time) (bool, error)
	}

	ServiceInterface interface {
		CheckUniqueness(uname, email string, exclUsers ...User) error
		Create(nu NewUser) (User, error)
		QueryAll() ([]User, error)
		GetByID(id string) (User, error)
		GetByUsernameOrEmail(uname string) (User, error)
		Filter(filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		Update(origUsr User, uu UpdateUser) (User, error)
		SetLastLogin(usr User) (User, error)
		Delete(ids ...string) error

		AddStudentTime(ctx context.Context, studentID string, delta int, at time.Time) error
		AwardActivityPoint(ctx context.Context, studentID string) (activity.AwardResult, error)
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		clock   core.Clock
		conf    *core.Config
	}
)

var (
	_ ServiceInterface             = (*service)(nil)
	_ activity.StudentTimeRecorder = (*service)(nil)
	_ activity.PointsService       = (*service)(nil)
)

func NewService(repo Repository, mailSvc core.EmailService, clock core.Clock, conf *core.Config) *service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		clock:   clock,
		conf:    conf,
	}
}

func (svc *service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(nu NewUser) (User, error) {
	now := svc.clock.Now().UTC()
	usr := User{
		Name:       nu.Name,
		Username:   nu.Username,
		Email:      nu.Email,
		Role:       nu.Role,
		Status:     StatusActive,
		RollNumber: nu.RollNumber,
		Batch:      nu.Batch,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	usr, err := svc.repo.CreateUser(context.Background(), usr)
	if err != nil {
		return User{}, err
	}
	svc.sendWelcomeEmail(usr)
	return usr, nil
}

func (svc *service) QueryAll() ([]User, error) {
	return svc.repo.QueryAllUsers(context.Background())
}

func (svc *service) GetByID(id string) (User, error) {
	return svc.repo.GetUserByID(context.Background(), id)
}

func (svc *service) GetByUsernameOrEmail(uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(context.Background(), core.CleanString(uname, true /* lower */))
}

func (svc *service) Filter(filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(context.Background(), filter, ordering)
}

func (svc *service) Update(origUsr User, uu UpdateUser) (User, error) {
	usr := User{
		ID:         origUsr.ID,
		Name:       origUsr.Name,
		Username:   origUsr.Username,
		Email:      origUsr.Email,
		Role:       origUsr.Role,
		Status:     origUsr.Status,
		RollNumber: origUsr.RollNumber,
		Batch:      origUsr.Batch,
		UpdatedAt:  svc.clock.Now().UTC(),
	}
	if uu.Name != "" {
		usr.Name = uu.Name
	}
	if uu.Username != "" {
		usr.Username = uu.Username
	}
	if uu.Email != "" {
		usr.Email = uu.Email
	}
	if uu.Status != "" {
		usr.Status = uu.Status
	}
	if uu.RollNumber != "" {
		usr.RollNumber = uu.RollNumber
	}
	if uu.Batch != "" {
		usr.Batch = uu.Batch
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(context.Background(), usr)
}

func (svc *service) SetLastLogin(usr User) (User, error) {
	return svc.repo.SetLastLogin(context.Background(), usr, svc.clock.Now().UTC())
}

func (svc *service) Delete(ids ...string) error {
	return svc.repo.DeleteUsersByID(context.Background(), ids)
}

// AddStudentTime refreshes the student's global engaged-time counter; called
// by the heartbeat sync alongside each per-phase write.
func (svc *service) AddStudentTime(ctx context.Context, studentID string, delta int, at time.Time) error {
	return svc.repo.AddUserTime(ctx, studentID, delta, at)
}

// AwardActivityPoint grants the cadence-limited engagement reward. The
// cooldown check happens in the database so racing award attempts cannot
// double-grant.
func (svc *service) AwardActivityPoint(ctx context.Context, studentID string) (activity.AwardResult, error) {
	awarded, err := svc.repo.AwardPoints(
		ctx, studentID,
		svc.conf.Gamification.PointsPerAward,
		svc.conf.Gamification.AwardInterval,
		svc.clock.Now().UTC(),
	)
	if err != nil {
		return activity.AwardResult{}, err
	}
	if !awarded {
		return activity.AwardResult{Success: false, Message: "cooldown active"}, nil
	}
	return activity.AwardResult{Success: true}, nil
}

func (svc *service) sendWelcomeEmail(usr User) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: fmt.Sprintf("Welcome to %s", svc.conf.AppName),
		BodyStr: fmt.Sprintf(
			"Hi %s,\n\nYour %s account is ready. Log in at %s to get started with your first phase.\n",
			usr.Name, svc.conf.AppName, svc.conf.FrontendBaseURL,
		),
	})
}
