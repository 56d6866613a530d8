package repository

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickcull/cullingbackend/models"
)

func record(filename string, mutate ...func(*models.ImageRecord)) models.ImageRecord {
	rec := models.ImageRecord{
		Filename:       filename,
		FilePath:       filepath.Join("/shoot", filename),
		Format:         filepath.Ext(filename),
		FileSize:       1024,
		FileModifiedAt: 1700000000,
	}
	for _, m := range mutate {
		m(&rec)
	}
	return rec
}

func withRating(n int) func(*models.ImageRecord) {
	return func(r *models.ImageRecord) { r.Rating = &n }
}

func withAnalysis(predicted int, sharpness float64) func(*models.ImageRecord) {
	return func(r *models.ImageRecord) {
		at := int64(1700000100)
		r.AnalyzedAt = &at
		r.PredictedRating = &predicted
		r.SharpnessOverall = &sharpness
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	repo, err := Open(dir)
	require.NoError(t, err)
	rec := record("img1.jpg", withRating(4))
	require.NoError(t, repo.Upsert(&rec))
	require.NoError(t, repo.Close())

	repo, err = Open(dir)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.Get("img1.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 4, *got.Rating)
}

func TestSchemaMismatchRecreates(t *testing.T) {
	dir := t.TempDir()

	repo, err := Open(dir)
	require.NoError(t, err)
	rec := record("img1.jpg")
	require.NoError(t, repo.Upsert(&rec))

	// simulate a cache left behind by an older build
	stale := strconv.Itoa(SchemaVersion - 1)
	require.NoError(t, repo.db.Model(&schemaMeta{}).
		Where("key = ?", schemaVersionKey).
		Update("value", stale).Error)
	require.NoError(t, repo.Close())

	repo, err = Open(dir)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.Get("img1.jpg")
	require.NoError(t, err)
	assert.Nil(t, got, "old rows must not survive a schema bump")

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpsertReplacesRow(t *testing.T) {
	repo, err := Open(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	rec := record("img1.jpg", withRating(2))
	require.NoError(t, repo.Upsert(&rec))
	updated := record("img1.jpg", withRating(5))
	require.NoError(t, repo.Upsert(&updated))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.Get("img1.jpg")
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 5, *got.Rating)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo, err := Open(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	rec := record("img1.jpg")
	require.NoError(t, repo.Upsert(&rec))
	require.NoError(t, repo.Delete("img1.jpg"))
	require.NoError(t, repo.Delete("img1.jpg"))

	got, err := repo.Get("img1.jpg")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReplaceAllBatchesAndReportsProgress(t *testing.T) {
	repo, err := Open(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	stale := record("old.jpg")
	require.NoError(t, repo.Upsert(&stale))

	recs := make([]models.ImageRecord, 0, 250)
	for i := 0; i < 250; i++ {
		recs = append(recs, record("img"+strconv.Itoa(i)+".jpg"))
	}

	var updates []models.Progress
	require.NoError(t, repo.ReplaceAll(recs, func(p models.Progress) {
		updates = append(updates, p)
	}))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 250, n)

	got, err := repo.Get("old.jpg")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.Len(t, updates, 3) // 100 + 100 + 50
	assert.Equal(t, 100, updates[0].Processed)
	assert.Equal(t, 250, updates[2].Processed)
	assert.Equal(t, 250, updates[0].Total)
}

func TestGetUnanalyzed(t *testing.T) {
	repo, err := Open(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	analyzed := record("done.jpg", withAnalysis(3, 0.5))
	pending := record("todo.jpg")
	require.NoError(t, repo.Upsert(&analyzed))
	require.NoError(t, repo.Upsert(&pending))

	recs, err := repo.GetUnanalyzed()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "todo.jpg", recs[0].Filename)
}

func TestQueryFiltered(t *testing.T) {
	repo, err := Open(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	seed := []models.ImageRecord{
		record("a.jpg", withRating(5), withAnalysis(2, 0.9)),
		record("b.jpg", withAnalysis(4, 0.7)), // no editorial rating, predicted 4
		record("c.jpg", withRating(1)),
		record("d.nef", func(r *models.ImageRecord) { r.IsRaw = true }),
	}
	for i := range seed {
		require.NoError(t, repo.Upsert(&seed[i]))
	}

	t.Run("min rating falls back to predicted", func(t *testing.T) {
		min := 4
		recs, err := repo.QueryFiltered(models.ImageFilter{MinRating: &min})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a.jpg", recs[0].Filename)
		assert.Equal(t, "b.jpg", recs[1].Filename)
	})

	t.Run("editorial rating wins over predicted", func(t *testing.T) {
		// a.jpg has editorial 5 and predicted 2; editorial must decide
		min := 5
		recs, err := repo.QueryFiltered(models.ImageFilter{MinRating: &min})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "a.jpg", recs[0].Filename)
	})

	t.Run("analyzed only", func(t *testing.T) {
		recs, err := repo.QueryFiltered(models.ImageFilter{AnalyzedOnly: true})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("min sharpness", func(t *testing.T) {
		minSharp := 0.8
		recs, err := repo.QueryFiltered(models.ImageFilter{MinSharpness: &minSharp})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "a.jpg", recs[0].Filename)
	})

	t.Run("raw only", func(t *testing.T) {
		recs, err := repo.QueryFiltered(models.ImageFilter{RawOnly: true})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "d.nef", recs[0].Filename)
	})

	t.Run("search text", func(t *testing.T) {
		recs, err := repo.QueryFiltered(models.ImageFilter{SearchText: "b.j"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "b.jpg", recs[0].Filename)
	})

	t.Run("formats", func(t *testing.T) {
		recs, err := repo.QueryFiltered(models.ImageFilter{IncludeFormats: []string{".nef"}})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "d.nef", recs[0].Filename)
	})
}
