package revisions_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constructionpro/internal/access"
	"constructionpro/internal/common"
	"constructionpro/internal/events"
	"constructionpro/internal/models"
	"constructionpro/internal/models/modelstest"
	"constructionpro/internal/revisions"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) RecordRevision() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func bareDocument(t *testing.T, db *models.DB, uploader *models.User) *models.Document {
	t.Helper()
	doc := &models.Document{
		Name:       "Foundation plan",
		Category:   models.CategoryDrawings,
		StorageKey: "documents/pending",
		UploadedBy: uploader.ID,
	}
	require.NoError(t, db.Documents.Create(doc))
	return doc
}

func TestRecordInitial(t *testing.T) {
	db := modelstest.New(t)
	user := modelstest.User(t, db, access.RoleForeman, false)
	doc := bareDocument(t, db, user)
	rec := &events.Recorder{}
	tracker := revisions.New(db, revisions.WithPublisher(rec))
	ctx := context.Background()

	rev, err := tracker.RecordInitial(ctx, revisions.Initial{DocumentID: doc.ID, StorageKey: "documents/a.pdf", FileSize: 10, UploaderID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, rev.Version)
	assert.True(t, rev.IsLatest)

	got, err := db.Documents.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentVersion)
	assert.Equal(t, "documents/a.pdf", got.StorageKey)

	_, err = tracker.RecordInitial(ctx, revisions.Initial{DocumentID: doc.ID, StorageKey: "documents/b.pdf", UploaderID: user.ID})
	assert.ErrorIs(t, err, common.ErrConflict)

	assert.Equal(t, []events.Type{events.RevisionRecorded}, rec.Types())
}

func TestRecordNewVersionIsMonotonic(t *testing.T) {
	db := modelstest.New(t)
	user := modelstest.User(t, db, access.RoleForeman, false)
	doc := modelstest.Document(t, db, user, models.CategoryDrawings, false)
	obs := &counter{}
	tracker := revisions.New(db, revisions.WithObserver(obs))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		rev, err := tracker.RecordNewVersion(ctx, revisions.NewVersion{
			DocumentID:  doc.ID,
			StorageKey:  uuid.NewString(),
			ChangeNotes: "rev",
			UploaderID:  user.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, i+2, rev.Version)
	}
	assert.Equal(t, 6, obs.n)

	all, err := tracker.List(ctx, doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 7)
	latest := 0
	for i, rev := range all {
		assert.Equal(t, 7-i, rev.Version)
		if rev.IsLatest {
			latest++
		}
	}
	assert.Equal(t, 1, latest)
	assert.True(t, all[0].IsLatest)

	recent, err := tracker.Recent(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, recent, revisions.RecentLimit)

	got, err := db.Documents.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.CurrentVersion)
	assert.Equal(t, all[0].StorageKey, got.StorageKey)

	first, err := tracker.Get(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.False(t, first.IsLatest)
}

func TestRecordNewVersionConcurrent(t *testing.T) {
	db := modelstest.New(t)
	user := modelstest.User(t, db, access.RoleForeman, false)
	doc := modelstest.Document(t, db, user, models.CategoryDrawings, false)
	tracker := revisions.New(db)

	const uploads = 8
	var wg sync.WaitGroup
	errs := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.RecordNewVersion(context.Background(), revisions.NewVersion{
				DocumentID: doc.ID,
				StorageKey: uuid.NewString(),
				UploaderID: user.ID,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := tracker.List(context.Background(), doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, uploads+1)
	for i, rev := range all {
		assert.Equal(t, uploads+1-i, rev.Version)
	}
}

func TestRecordNewVersionErrors(t *testing.T) {
	db := modelstest.New(t)
	user := modelstest.User(t, db, access.RoleForeman, false)
	tracker := revisions.New(db)
	ctx := context.Background()

	_, err := tracker.RecordNewVersion(ctx, revisions.NewVersion{DocumentID: uuid.New(), StorageKey: "k", UploaderID: user.ID})
	assert.ErrorIs(t, err, common.ErrNotFound)

	doc := modelstest.Document(t, db, user, models.CategoryDrawings, false)
	_, err = tracker.RecordNewVersion(ctx, revisions.NewVersion{DocumentID: doc.ID, StorageKey: "  ", UploaderID: user.ID})
	assert.ErrorIs(t, err, common.ErrValidation)

	got, err := db.Documents.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentVersion)
}
