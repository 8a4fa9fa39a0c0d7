package dictionary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsolidator(t *testing.T) (*Consolidator, sqlmock.Sqlmock, string) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dir := t.TempDir()
	repo := repository.NewDictionaryRepository(&db.DB{DB: sqlDB})
	return NewConsolidator(repo, dir), mock, dir
}

func writeSource(t *testing.T, dir string, words ...string) string {
	t.Helper()
	path := filepath.Join(dir, uuid.New().String()+".txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(words, "\n")+"\n"), 0o644))
	return path
}

func dictionaryRows(dicts ...*models.Dictionary) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "name", "file_path", "file_size", "word_count", "md5_hash",
		"dictionary_type", "status", "provenance", "created_at", "updated_at",
	})
	for _, d := range dicts {
		rows.AddRow(d.ID.String(), d.UserID.String(), d.Name, d.FilePath, d.FileSize, d.WordCount,
			d.MD5Hash, string(d.Type), string(d.Status), nil, time.Now(), time.Now())
	}
	return rows
}

func readySource(ownerID uuid.UUID, path string, wordCount int64) *models.Dictionary {
	return &models.Dictionary{
		ID:        uuid.New(),
		UserID:    ownerID,
		Name:      filepath.Base(path),
		FilePath:  path,
		FileSize:  64,
		WordCount: wordCount,
		MD5Hash:   "d41d8cd98f00b204e9800998ecf8427e",
		Type:      models.DictionaryTypeUploaded,
		Status:    models.DictionaryStatusReady,
	}
}

func expectInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("INSERT INTO dictionaries").WillReturnRows(
		sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(uuid.New().String(), time.Now(), time.Now()))
}

func readWords(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func TestMergeDeduplicates(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src1 := readySource(ownerID, writeSource(t, dir, "alpha", "bravo"), 2)
	src2 := readySource(ownerID, writeSource(t, dir, "bravo", "charlie"), 2)

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src1, src2))
	expectInsert(mock)

	merged, err := c.Merge(context.Background(), ownerID, "merged", []uuid.UUID{src1.ID, src2.ID}, true, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), merged.WordCount)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, readWords(t, merged.FilePath))
	assert.Equal(t, models.DictionaryTypeGenerated, merged.Type)
	require.NotNil(t, merged.Provenance)
	assert.Equal(t, []uuid.UUID{src1.ID, src2.ID}, merged.Provenance.SourceIDs)
	assert.True(t, merged.Provenance.RemoveDuplicates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeKeepsDuplicatesWhenDisabled(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src1 := readySource(ownerID, writeSource(t, dir, "alpha", "bravo"), 2)
	src2 := readySource(ownerID, writeSource(t, dir, "bravo"), 1)

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src1, src2))
	expectInsert(mock)

	merged, err := c.Merge(context.Background(), ownerID, "merged", []uuid.UUID{src1.ID, src2.ID}, false, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), merged.WordCount)
	assert.Equal(t, []string{"alpha", "bravo", "bravo"}, readWords(t, merged.FilePath))
}

func TestMergeLengthFilter(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src := readySource(ownerID, writeSource(t, dir, "ab", "abcd", "abcde"), 3)

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src))
	expectInsert(mock)

	merged, err := c.Merge(context.Background(), ownerID, "filtered", []uuid.UUID{src.ID}, true,
		&models.MergeRules{MinLength: 4})
	require.NoError(t, err)

	assert.Equal(t, int64(2), merged.WordCount)
	assert.Equal(t, []string{"abcd", "abcde"}, readWords(t, merged.FilePath))
}

func TestMergeExcludePattern(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src := readySource(ownerID, writeSource(t, dir, "password1", "hunter2", "letmein"), 3)

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src))
	expectInsert(mock)

	merged, err := c.Merge(context.Background(), ownerID, "filtered", []uuid.UUID{src.ID}, true,
		&models.MergeRules{ExcludePattern: `\d`})
	require.NoError(t, err)

	assert.Equal(t, []string{"letmein"}, readWords(t, merged.FilePath))
}

func TestMergeEmptyResult(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src := readySource(ownerID, writeSource(t, dir, "short"), 1)

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src))

	_, err := c.Merge(context.Background(), ownerID, "empty", []uuid.UUID{src.ID}, true,
		&models.MergeRules{MinLength: 100})
	require.ErrorIs(t, err, ErrEmptyResult)

	// The partial output file must not survive a failed merge.
	ownerDir := filepath.Join(dir, ownerID.String())
	entries, readErr := os.ReadDir(ownerDir)
	if readErr == nil {
		assert.Empty(t, entries)
	}
}

func TestMergeRejectsNotReadySource(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src := readySource(ownerID, writeSource(t, dir, "alpha"), 1)
	src.Status = models.DictionaryStatusProcessing

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src))

	_, err := c.Merge(context.Background(), ownerID, "merged", []uuid.UUID{src.ID}, true, nil)
	require.ErrorIs(t, err, ErrSourceNotReady)
}

func TestMergeRejectsMissingSource(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src := readySource(ownerID, writeSource(t, dir, "alpha"), 1)

	// Only one of the two requested ids resolves.
	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src))

	_, err := c.Merge(context.Background(), ownerID, "merged", []uuid.UUID{src.ID, uuid.New()}, true, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestMergeRequiresSources(t *testing.T) {
	c, _, _ := newTestConsolidator(t)
	_, err := c.Merge(context.Background(), uuid.New(), "merged", nil, true, nil)
	require.ErrorIs(t, err, ErrInsufficientInputs)
}

func TestCleanReportsInvalidAndDuplicates(t *testing.T) {
	c, mock, dir := newTestConsolidator(t)
	ownerID := uuid.New()

	src := readySource(ownerID, writeSource(t, dir, "good", "Good", "café"), 3)

	mock.ExpectQuery("FROM dictionaries").WillReturnRows(dictionaryRows(src))
	expectInsert(mock)

	report, err := c.Clean(context.Background(), ownerID, src.ID, "cleaned")
	require.NoError(t, err)

	assert.Equal(t, int64(3), report.TotalLines)
	assert.Equal(t, int64(1), report.ValidWords)
	assert.Equal(t, int64(1), report.InvalidWords)
	assert.Equal(t, int64(1), report.DuplicateWords)
	assert.Equal(t, []string{"café"}, report.InvalidSamples)
	assert.Equal(t, []string{"Good"}, report.DuplicateSamples)

	require.NotNil(t, report.Dictionary)
	assert.Equal(t, []string{"good"}, readWords(t, report.Dictionary.FilePath))
}

func TestCountWordsInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n\ntwo\n   \nthree\n"), 0o644))

	count, err := CountWordsInFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCalculateFileMD5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	hash, err := CalculateFileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, "b1946ac92492d2347c6235b4d2611184", hash)
}
