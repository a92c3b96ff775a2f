package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/pkg/models"
)

type fakeInstaller struct {
	installed []string
	err       error
}

func (f *fakeInstaller) Install(_ context.Context, pkg string) error {
	if f.err != nil {
		return f.err
	}
	f.installed = append(f.installed, pkg)
	return nil
}

type fakeRecorder struct {
	recorded []*models.ExperienceData
}

func (f *fakeRecorder) RecordExperience(_ context.Context, data *models.ExperienceData) (*models.Experience, error) {
	f.recorded = append(f.recorded, data)
	return &models.Experience{ID: "exp-1"}, nil
}

type fakeRecoveryPublisher struct {
	published []*models.RecoveryResult
}

func (f *fakeRecoveryPublisher) PublishRecoveryAttempted(_ context.Context, result *models.RecoveryResult) error {
	f.published = append(f.published, result)
	return nil
}

func TestRecoverMissingModuleInstalls(t *testing.T) {
	installer := &fakeInstaller{}
	recorder := &fakeRecorder{}
	rec := NewRecovery(installer, recorder)

	result := rec.Recover(context.Background(), "Error: Cannot find module 'lodash'", "")

	assert.True(t, result.Success)
	assert.True(t, result.ShouldRetry)
	assert.Equal(t, "missing_module", result.ErrorType)
	assert.Equal(t, []string{"lodash"}, installer.installed)

	require.Len(t, recorder.recorded, 1)
	exp := recorder.recorded[0]
	assert.Equal(t, models.ExperienceFix, exp.Type)
	assert.Equal(t, models.OutcomeSuccess, exp.Outcome)
	assert.Equal(t, successConfidence, exp.Confidence)
	assert.True(t, exp.WouldRepeat)
}

func TestRecoverMissingModuleInstallFails(t *testing.T) {
	installer := &fakeInstaller{err: errors.New("registry unreachable")}
	recorder := &fakeRecorder{}
	rec := NewRecovery(installer, recorder)

	result := rec.Recover(context.Background(), "Cannot find module 'express'", "")

	assert.False(t, result.Success)
	assert.False(t, result.ShouldRetry)

	require.Len(t, recorder.recorded, 1, "failed attempts are recorded too")
	assert.Equal(t, models.OutcomeFailure, recorder.recorded[0].Outcome)
	assert.Equal(t, failureConfidence, recorder.recorded[0].Confidence)
}

func TestRecoverLocalModuleIsDiagnosticOnly(t *testing.T) {
	installer := &fakeInstaller{}
	recorder := &fakeRecorder{}
	rec := NewRecovery(installer, recorder)

	result := rec.Recover(context.Background(), "Cannot find module './utils/helpers'", "")

	assert.Equal(t, "missing_module_local", result.ErrorType)
	assert.False(t, result.Success)
	assert.False(t, result.ShouldRetry)
	assert.Empty(t, installer.installed, "local paths are never installed")
	assert.Empty(t, recorder.recorded, "diagnostic-only patterns skip the ledger")
	assert.Contains(t, result.Details, "./utils/helpers")
}

func TestRecoverTypeMismatch(t *testing.T) {
	rec := NewRecovery(nil, nil)

	result := rec.Recover(context.Background(), `Type 'string' is not assignable to type 'number'`, "")

	assert.Equal(t, "type_mismatch", result.ErrorType)
	assert.False(t, result.Success)
	assert.Contains(t, result.Details, "string")
	assert.Contains(t, result.Details, "number")
}

func TestRecoverDatabaseConnection(t *testing.T) {
	rec := NewRecovery(nil, &fakeRecorder{})

	t.Run("dsn configured suggests retry", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/mend")
		result := rec.Recover(context.Background(), "connect ECONNREFUSED 127.0.0.1:5432", "")
		assert.Equal(t, "database_connection", result.ErrorType)
		assert.True(t, result.Success)
		assert.True(t, result.ShouldRetry)
	})

	t.Run("no dsn is terminal", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("MEND_DB_DSN", "")
		result := rec.Recover(context.Background(), "connection refused", "")
		assert.False(t, result.Success)
		assert.False(t, result.ShouldRetry)
	})
}

func TestRecoverMissingEnvVar(t *testing.T) {
	rec := NewRecovery(nil, nil)

	result := rec.Recover(context.Background(), "environment variable API_KEY is not set", "")

	assert.Equal(t, "missing_env_var", result.ErrorType)
	assert.False(t, result.Success)
	assert.Contains(t, result.Details, "API_KEY")
}

func TestRecoverSyntaxError(t *testing.T) {
	rec := NewRecovery(nil, nil)

	result := rec.Recover(context.Background(), "SyntaxError: Unexpected token '}'", "")

	assert.Equal(t, "syntax_error", result.ErrorType)
	assert.False(t, result.Success)
	assert.False(t, result.ShouldRetry)
}

func TestRecoverUnrecognizedIsTerminal(t *testing.T) {
	recorder := &fakeRecorder{}
	rec := NewRecovery(&fakeInstaller{}, recorder)

	result := rec.Recover(context.Background(), "the flux capacitor misaligned", "")

	assert.False(t, result.Success)
	assert.Equal(t, "unrecognized", result.ErrorType)
	assert.False(t, result.ShouldRetry)
	assert.Empty(t, recorder.recorded)
}

func TestRecoverNoInstallerConfigured(t *testing.T) {
	rec := NewRecovery(nil, nil)

	result := rec.Recover(context.Background(), "Cannot find module 'axios'", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Details, "axios")
}

// Ordering invariant: the local-path pattern must shadow the generic
// missing-module pattern, otherwise './x' would be sent to npm.
func TestPatternOrderLocalBeforeGeneric(t *testing.T) {
	rec := NewRecovery(&fakeInstaller{}, nil)

	local := rec.Recover(context.Background(), "Cannot find module '../lib/db'", "")
	assert.Equal(t, "missing_module_local", local.ErrorType)

	pkg := rec.Recover(context.Background(), "Cannot find module '@scope/pkg'", "")
	assert.Equal(t, "missing_module", pkg.ErrorType)
}

// Every attempt is published, including unrecognized ones.
func TestRecoverPublishesAttempts(t *testing.T) {
	publisher := &fakeRecoveryPublisher{}
	rec := NewRecovery(&fakeInstaller{}, nil)
	rec.SetPublisher(publisher)

	rec.Recover(context.Background(), "Cannot find module 'lodash'", "")
	rec.Recover(context.Background(), "something nobody has seen before", "")

	require.Len(t, publisher.published, 2)
	assert.Equal(t, "missing_module", publisher.published[0].ErrorType)
	assert.Equal(t, "unrecognized", publisher.published[1].ErrorType)
}
