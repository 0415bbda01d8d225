package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acs-lambda/delete-user/internal/domain"
)

const tracerName = "github.com/acs-lambda/delete-user/internal/usecase"

type Store interface {
	FindProfiles(ctx context.Context, userID string) ([]domain.Profile, error)
	QueryDependents(ctx context.Context, coll domain.Collection, userID string) ([]domain.DependentRecord, error)
	DeleteDependents(ctx context.Context, records []domain.DependentRecord) error
	DeleteProfile(ctx context.Context, profile domain.Profile) error
}

type IdentityDirectory interface {
	DeleteAccount(ctx context.Context, username string) error
}

// DeleteUserService removes a user from the identity directory and the data
// store. Stages run forward only: a failure stops the pipeline and nothing
// already deleted is restored.
type DeleteUserService struct {
	store         Store
	directory     IdentityDirectory
	conversations domain.Collection
	threads       domain.Collection
	log           *zap.Logger
	tracer        trace.Tracer
}

type DeleteUserInput struct {
	UserID string
}

func NewDeleteUserService(store Store, directory IdentityDirectory, conversations, threads domain.Collection, log *zap.Logger) (*DeleteUserService, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if directory == nil {
		return nil, errors.New("usecase: identity directory must not be nil")
	}
	if conversations.Table == "" || threads.Table == "" {
		return nil, errors.New("usecase: dependent collections must name a table")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeleteUserService{
		store:         store,
		directory:     directory,
		conversations: conversations,
		threads:       threads,
		log:           log,
		tracer:        otel.Tracer(tracerName),
	}, nil
}

func (s *DeleteUserService) DeleteUser(ctx context.Context, in DeleteUserInput) (domain.DeletionOutcome, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return domain.DeletionOutcome{}, newError(ErrorBadRequest, StageValidate, "empty_user_id", nil)
	}

	ctx, span := s.tracer.Start(ctx, "delete_user", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	run := pipeline{svc: s, userID: userID}

	var profile domain.Profile
	err := run.stage(ctx, StageResolve, func(ctx context.Context) ([]zap.Field, error) {
		p, err := s.resolve(ctx, userID)
		profile = p
		return nil, err
	})
	if err == nil {
		err = run.stage(ctx, StageDeleteIdentity, func(ctx context.Context) ([]zap.Field, error) {
			return nil, s.deleteIdentity(ctx, userID)
		})
	}

	var convs, threads []domain.DependentRecord
	if err == nil {
		err = run.stage(ctx, StageCollect, func(ctx context.Context) ([]zap.Field, error) {
			var cerr error
			convs, threads, cerr = s.collect(ctx, userID)
			return []zap.Field{zap.Int("conversations", len(convs)), zap.Int("threads", len(threads))}, cerr
		})
	}
	if err == nil {
		err = run.stage(ctx, StageCascadeDelete, func(ctx context.Context) ([]zap.Field, error) {
			all := make([]domain.DependentRecord, 0, len(convs)+len(threads))
			all = append(all, convs...)
			all = append(all, threads...)
			if derr := s.store.DeleteDependents(ctx, all); derr != nil {
				return nil, newError(ErrorCascadeDeleteFailed, StageCascadeDelete, "dynamodb_cascade_delete_error", derr)
			}
			return []zap.Field{zap.Int("records", len(all))}, nil
		})
	}
	if err == nil {
		err = run.stage(ctx, StageDeleteProfile, func(ctx context.Context) ([]zap.Field, error) {
			if derr := s.store.DeleteProfile(ctx, profile); derr != nil {
				return nil, newError(ErrorProfileDeleteFailed, StageDeleteProfile, "dynamodb_profile_delete_error", derr)
			}
			return nil, nil
		})
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.DeletionOutcome{}, err
	}

	out := domain.DeletionOutcome{Conversations: len(convs), Threads: len(threads)}
	span.SetAttributes(
		attribute.Int("deleted.conversations", out.Conversations),
		attribute.Int("deleted.threads", out.Threads),
	)
	span.SetStatus(codes.Ok, "")
	s.log.Info("user deleted",
		zap.String("user_id", userID),
		zap.Int("conversations", out.Conversations),
		zap.Int("threads", out.Threads),
	)
	return out, nil
}

func (s *DeleteUserService) resolve(ctx context.Context, userID string) (domain.Profile, error) {
	profiles, err := s.store.FindProfiles(ctx, userID)
	if err != nil {
		return domain.Profile{}, newError(ErrorQueryFailed, StageResolve, "dynamodb_profile_query_error", err)
	}
	if len(profiles) == 0 {
		return domain.Profile{}, newError(ErrorNotFound, StageResolve, "profile_not_found", nil)
	}
	if len(profiles) > 1 {
		s.log.Warn("multiple profiles share an id, using the first", zap.String("user_id", userID), zap.Int("matches", len(profiles)))
	}
	profile := profiles[0]
	if strings.TrimSpace(profile.Email) == "" {
		return domain.Profile{}, newError(ErrorDataIntegrity, StageResolve, "profile_missing_email", nil)
	}
	return profile, nil
}

// The directory username is the data store identifier.
func (s *DeleteUserService) deleteIdentity(ctx context.Context, userID string) error {
	err := s.directory.DeleteAccount(ctx, userID)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrAccountNotFound) {
		return newError(ErrorIdentityNotFound, StageDeleteIdentity, "identity_account_not_found", err)
	}
	return newError(ErrorIdentityDeleteFailed, StageDeleteIdentity, "identity_delete_error", err)
}

func (s *DeleteUserService) collect(ctx context.Context, userID string) (convs, threads []domain.DependentRecord, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var qerr error
		convs, qerr = s.store.QueryDependents(gctx, s.conversations, userID)
		return qerr
	})
	g.Go(func() error {
		var qerr error
		threads, qerr = s.store.QueryDependents(gctx, s.threads, userID)
		return qerr
	})
	if err := g.Wait(); err != nil {
		return nil, nil, newError(ErrorQueryFailed, StageCollect, "dynamodb_dependent_query_error", err)
	}
	return convs, threads, nil
}

// pipeline records which stages of one deletion have taken effect so a
// failure log shows how far the run got.
type pipeline struct {
	svc       *DeleteUserService
	userID    string
	completed []string
}

func (p *pipeline) stage(ctx context.Context, stage Stage, fn func(ctx context.Context) ([]zap.Field, error)) error {
	ctx, span := p.svc.tracer.Start(ctx, "delete_user."+string(stage))
	defer span.End()

	start := time.Now()
	fields, err := fn(ctx)
	fields = append(fields,
		zap.String("stage", string(stage)),
		zap.String("user_id", p.userID),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		code := ErrorInternal
		var ucErr *Error
		if errors.As(err, &ucErr) {
			code = ucErr.Code
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		fields = append(fields,
			zap.String("code", string(code)),
			zap.Strings("completed_stages", p.completed),
			zap.Error(err),
		)
		p.svc.log.Error("delete user stage failed", fields...)
		return err
	}

	span.SetStatus(codes.Ok, "")
	p.completed = append(p.completed, string(stage))
	p.svc.log.Info("delete user stage completed", fields...)
	return nil
}
