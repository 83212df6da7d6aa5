package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

func TestReviewEvents(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveReviewEvent(ctx, &model.ReviewEvent{
		ResultID: "r1", Decision: model.ReviewNeedsRevision, Reviewer: "dr.k", Notes: "plan unclear",
	}))
	require.NoError(t, store.SaveReviewEvent(ctx, &model.ReviewEvent{
		ResultID: "r1", Decision: model.ReviewApproved, Reviewer: "dr.k",
	}))

	events, err := store.ListReviewEvents(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.ReviewNeedsRevision, events[0].Decision)
	assert.Equal(t, "plan unclear", events[0].Notes)
	assert.Equal(t, model.ReviewApproved, events[1].Decision)
	assert.False(t, events[1].CreatedAt.IsZero())

	err = store.SaveReviewEvent(ctx, &model.ReviewEvent{ResultID: "r1", Decision: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUploadAttempts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveUploadAttempt(ctx, &model.UploadAttempt{
		ResultID: "r1", Status: model.UploadFailed, Detail: "503 from destination", Tries: 3,
	}))
	require.NoError(t, store.SaveUploadAttempt(ctx, &model.UploadAttempt{
		ResultID: "r1", Status: model.UploadUploaded, Tries: 1,
	}))

	attempts, err := store.ListUploadAttempts(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, model.UploadFailed, attempts[0].Status)
	assert.Equal(t, 3, attempts[0].Tries)
	assert.Equal(t, model.UploadUploaded, attempts[1].Status)

	none, err := store.ListUploadAttempts(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTags(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.AddTag(ctx, "Doe, Jane", model.Tag{Name: "diabetic", Color: "red"}))
	require.NoError(t, store.AddTag(ctx, "Jane Doe", model.Tag{Name: "vip"}))
	require.NoError(t, store.AddTag(ctx, "John Roe", model.Tag{Name: "diabetic"}))

	// Name variants resolve to the same patient.
	tags, err := store.ListTags(ctx, "JANE DOE")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "diabetic", tags[0].Name)
	assert.Equal(t, "red", tags[0].Color, "an empty color keeps the existing one")
	assert.Equal(t, "vip", tags[1].Name)

	all, err := store.ListTags(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.RemoveTag(ctx, "jane doe", "vip"))
	tags, err = store.ListTags(ctx, "Jane Doe")
	require.NoError(t, err)
	assert.Len(t, tags, 1)

	assert.ErrorIs(t, store.RemoveTag(ctx, "Jane Doe", "vip"), common.ErrNotFound)
	assert.ErrorIs(t, store.AddTag(ctx, "Jane Doe", model.Tag{}), ErrInvalidTag)
}

func TestCatalogVersions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetActiveCatalogVersion(ctx)
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, store.SaveCatalogVersion(ctx, service.CatalogVersion{
		Version: "v1", Format: "yaml", Document: []byte("version: v1"),
	}))
	require.NoError(t, store.SaveCatalogVersion(ctx, service.CatalogVersion{
		Version: "v2", Format: "toml", Document: []byte(`version = "v2"`),
	}))

	active, err := store.GetActiveCatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", active.Version)
	assert.Equal(t, "toml", active.Format)
	assert.Equal(t, `version = "v2"`, string(active.Document))

	err = store.SaveCatalogVersion(ctx, service.CatalogVersion{Version: "v3", Format: "yaml"})
	assert.ErrorIs(t, err, ErrInvalidCatalogEntry)
}
