package controller

import (
	"context"
	"errors"
	"testing"

	"signalbridge/src/model"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExceptionWriter struct {
	created []*model.Exception
	err     error
}

func (f *fakeExceptionWriter) Create(_ context.Context, exc *model.Exception) error {
	f.created = append(f.created, exc)
	return f.err
}

func TestCapturePersistsException(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer hook.Reset()

	writer := &fakeExceptionWriter{}
	Capture(context.Background(), writer, "signalbridge", "pipeline", "Handle", LevelError,
		errors.New("boom"), map[string]interface{}{"execution_id": 7})

	require.Len(t, writer.created, 1)
	exc := writer.created[0]
	assert.Equal(t, "pipeline", exc.Module)
	assert.Equal(t, "boom", exc.Message)
	assert.JSONEq(t, `{"execution_id":7}`, string(exc.Context))
	assert.NotEmpty(t, exc.Stack)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestCaptureIgnoresNilError(t *testing.T) {
	writer := &fakeExceptionWriter{}
	Capture(context.Background(), writer, "s", "m", "f", LevelError, nil, nil)
	assert.Empty(t, writer.created)
}

func TestCaptureSurvivesWriterFailure(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer hook.Reset()

	writer := &fakeExceptionWriter{err: errors.New("db down")}
	Capture(context.Background(), writer, "s", "m", "f", LevelWarn, errors.New("boom"), nil)

	require.Len(t, writer.created, 1)
	assert.Equal(t, "Failed to persist exception", hook.LastEntry().Message)
}
