package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func tracedService(t *testing.T, store Store, dir IdentityDirectory) (*DeleteUserService, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := newTestService(t, store, dir)
	svc.tracer = tp.Tracer(tracerName)
	return svc, rec
}

func spansByName(rec *tracetest.SpanRecorder) map[string]sdktrace.ReadOnlySpan {
	out := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range rec.Ended() {
		out[s.Name()] = s
	}
	return out
}

func TestDeleteUser_Spans_Success(t *testing.T) {
	store, dir := seeded()
	svc, rec := tracedService(t, store, dir)

	_, err := svc.DeleteUser(context.Background(), DeleteUserInput{UserID: "u-42"})
	require.NoError(t, err)

	spans := spansByName(rec)
	require.Len(t, spans, 6)

	root, ok := spans["delete_user"]
	require.True(t, ok)
	require.Equal(t, codes.Ok, root.Status().Code)
	require.Contains(t, root.Attributes(), attribute.String("user.id", "u-42"))
	require.Contains(t, root.Attributes(), attribute.Int("deleted.conversations", 3))
	require.Contains(t, root.Attributes(), attribute.Int("deleted.threads", 1))

	for _, stage := range []Stage{StageResolve, StageDeleteIdentity, StageCollect, StageCascadeDelete, StageDeleteProfile} {
		s, ok := spans["delete_user."+string(stage)]
		require.True(t, ok, "missing span for %s", stage)
		require.Equal(t, codes.Ok, s.Status().Code, stage)
		require.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID(), stage)
	}
}

func TestDeleteUser_Spans_StageFailure(t *testing.T) {
	store, dir := seeded()
	store.deleteDepErr = errors.New("batch write failed")
	svc, rec := tracedService(t, store, dir)

	_, err := svc.DeleteUser(context.Background(), DeleteUserInput{UserID: "u-42"})
	require.Error(t, err)

	spans := spansByName(rec)
	for _, stage := range []Stage{StageResolve, StageDeleteIdentity, StageCollect} {
		require.Equal(t, codes.Ok, spans["delete_user."+string(stage)].Status().Code, stage)
	}

	failed := spans["delete_user."+string(StageCascadeDelete)]
	require.NotNil(t, failed)
	require.Equal(t, codes.Error, failed.Status().Code)
	require.Equal(t, string(ErrorCascadeDeleteFailed), failed.Status().Description)
	require.NotEmpty(t, failed.Events(), "the stage error is recorded on the span")

	_, ran := spans["delete_user."+string(StageDeleteProfile)]
	require.False(t, ran)

	root := spans["delete_user"]
	require.Equal(t, codes.Error, root.Status().Code)
	for _, kv := range root.Attributes() {
		require.NotEqual(t, attribute.Key("deleted.conversations"), kv.Key)
	}
}
