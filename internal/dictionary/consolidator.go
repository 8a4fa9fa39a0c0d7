package dictionary

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
)

// Domain errors surfaced by merge and clean operations.
var (
	// ErrEmptyResult means filtering removed every word. A zero-word
	// dictionary is never created.
	ErrEmptyResult = errors.New("merge produced no words after filtering")
	// ErrInsufficientInputs means fewer sources were supplied than the
	// operation requires.
	ErrInsufficientInputs = errors.New("not enough source dictionaries")
	// ErrSourceNotReady means a source dictionary is still processing
	// or previously failed to materialize.
	ErrSourceNotReady = errors.New("source dictionary is not ready")
)

// cleanSampleLimit caps the invalid/duplicate samples returned to the
// operator from a clean pass.
const cleanSampleLimit = 100

// validWordPattern accepts printable ASCII; anything else (control
// bytes, mojibake from wrong encodings) is classified invalid.
var validWordPattern = regexp.MustCompile(`^[\x20-\x7e]+$`)

// Consolidator merges and cleans dictionaries. Every output is a new
// dictionary row with generated provenance; source rows and files are
// never mutated, so concurrent jobs can keep referencing them safely.
type Consolidator struct {
	dictRepo        *repository.DictionaryRepository
	dictionariesDir string
}

// NewConsolidator creates a new Consolidator writing outputs under
// dictionariesDir.
func NewConsolidator(dictRepo *repository.DictionaryRepository, dictionariesDir string) *Consolidator {
	return &Consolidator{
		dictRepo:        dictRepo,
		dictionariesDir: dictionariesDir,
	}
}

// Merge reads all source dictionaries, applies the optional filters,
// optionally deduplicates case-insensitively (first occurrence wins),
// and materializes the result as a new dictionary owned by ownerID.
// Partial output files are removed on any failure.
func (c *Consolidator) Merge(ctx context.Context, ownerID uuid.UUID, name string, sourceIDs []uuid.UUID, removeDuplicates bool, rules *models.MergeRules) (*models.Dictionary, error) {
	if len(sourceIDs) == 0 {
		return nil, ErrInsufficientInputs
	}

	sources, err := c.resolveSources(ctx, ownerID, sourceIDs)
	if err != nil {
		return nil, err
	}

	var excludeRe *regexp.Regexp
	if rules != nil && rules.ExcludePattern != "" {
		excludeRe, err = regexp.Compile(rules.ExcludePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", rules.ExcludePattern, err)
		}
	}

	outPath, outFile, err := c.createOutput(ownerID)
	if err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		outFile.Close()
		if !committed {
			if rmErr := os.Remove(outPath); rmErr != nil && !os.IsNotExist(rmErr) {
				debug.Warning("Failed to remove partial merge output %s: %v", outPath, rmErr)
			}
		}
	}()

	// Bloom filter as fast negative check in front of the exact set:
	// a definite miss skips the map lookup entirely, a maybe-hit is
	// confirmed against the set so dedup stays exact.
	var filter *bloom.BloomFilter
	var seen map[string]struct{}
	if removeDuplicates {
		expected := uint(0)
		for _, src := range sources {
			expected += uint(src.WordCount)
		}
		if expected < 1000 {
			expected = 1000
		}
		filter = bloom.NewWithEstimates(expected, 0.01)
		seen = make(map[string]struct{})
	}

	writer := bufio.NewWriter(outFile)
	var wordCount int64

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.appendFiltered(src.FilePath, writer, rules, excludeRe, filter, seen)
		if err != nil {
			return nil, fmt.Errorf("failed to merge source %s: %w", src.ID, err)
		}
		wordCount += n
	}

	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush merge output: %w", err)
	}
	if err := outFile.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync merge output: %w", err)
	}

	if wordCount == 0 {
		return nil, ErrEmptyResult
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat merge output: %w", err)
	}
	md5Hash, err := CalculateFileMD5(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum merge output: %w", err)
	}

	dict := &models.Dictionary{
		UserID:    ownerID,
		Name:      name,
		FilePath:  outPath,
		FileSize:  info.Size(),
		WordCount: wordCount,
		MD5Hash:   md5Hash,
		Type:      models.DictionaryTypeGenerated,
		Status:    models.DictionaryStatusReady,
		Provenance: &models.DictionaryProvenance{
			SourceIDs:        sourceIDs,
			RemoveDuplicates: removeDuplicates,
		},
	}
	if rules != nil {
		dict.Provenance.MinLength = rules.MinLength
		dict.Provenance.MaxLength = rules.MaxLength
		dict.Provenance.ExcludePattern = rules.ExcludePattern
	}

	if err := c.dictRepo.Create(ctx, dict); err != nil {
		return nil, err
	}
	committed = true

	debug.Info("Merged %d dictionaries into %s (%d words, %d bytes)",
		len(sources), dict.Name, dict.WordCount, dict.FileSize)
	return dict, nil
}

// appendFiltered streams one source file through the filters into the
// merge output and returns the number of words written.
func (c *Consolidator) appendFiltered(srcPath string, writer *bufio.Writer, rules *models.MergeRules, excludeRe *regexp.Regexp, filter *bloom.BloomFilter, seen map[string]struct{}) (int64, error) {
	file, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer file.Close()

	var written int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		word := strings.TrimRight(scanner.Text(), "\r")
		if word == "" {
			continue
		}
		if rules != nil {
			if rules.MinLength > 0 && len(word) < rules.MinLength {
				continue
			}
			if rules.MaxLength > 0 && len(word) > rules.MaxLength {
				continue
			}
		}
		if excludeRe != nil && excludeRe.MatchString(word) {
			continue
		}
		if filter != nil {
			key := strings.ToLower(word)
			if filter.TestString(key) {
				if _, dup := seen[key]; dup {
					continue
				}
			}
			filter.AddString(key)
			seen[key] = struct{}{}
		}
		if _, err := writer.WriteString(word + "\n"); err != nil {
			return written, fmt.Errorf("failed to write merged word: %w", err)
		}
		written++
	}
	if err := scanner.Err(); err != nil {
		return written, fmt.Errorf("failed to read source file: %w", err)
	}
	return written, nil
}

// Clean validates one dictionary line by line, dropping invalid words
// and case-insensitive duplicates (first occurrence wins), and writes
// the surviving words as a new dictionary. The report carries counts
// plus up to the first 100 invalid and duplicate samples.
func (c *Consolidator) Clean(ctx context.Context, ownerID uuid.UUID, sourceID uuid.UUID, name string) (*models.CleanReport, error) {
	sources, err := c.resolveSources(ctx, ownerID, []uuid.UUID{sourceID})
	if err != nil {
		return nil, err
	}
	source := sources[0]

	srcFile, err := os.Open(source.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary file: %w", err)
	}
	defer srcFile.Close()

	outPath, outFile, err := c.createOutput(ownerID)
	if err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		outFile.Close()
		if !committed {
			if rmErr := os.Remove(outPath); rmErr != nil && !os.IsNotExist(rmErr) {
				debug.Warning("Failed to remove partial clean output %s: %v", outPath, rmErr)
			}
		}
	}()

	report := &models.CleanReport{}
	seen := make(map[string]struct{})
	writer := bufio.NewWriter(outFile)

	scanner := bufio.NewScanner(srcFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		word := strings.TrimRight(scanner.Text(), "\r")
		if word == "" {
			continue
		}
		report.TotalLines++

		if !validWordPattern.MatchString(word) {
			report.InvalidWords++
			if len(report.InvalidSamples) < cleanSampleLimit {
				report.InvalidSamples = append(report.InvalidSamples, word)
			}
			continue
		}

		key := strings.ToLower(word)
		if _, dup := seen[key]; dup {
			report.DuplicateWords++
			if len(report.DuplicateSamples) < cleanSampleLimit {
				report.DuplicateSamples = append(report.DuplicateSamples, word)
			}
			continue
		}
		seen[key] = struct{}{}

		if _, err := writer.WriteString(word + "\n"); err != nil {
			return nil, fmt.Errorf("failed to write cleaned word: %w", err)
		}
		report.ValidWords++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary file: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush cleaned output: %w", err)
	}

	if report.ValidWords == 0 {
		return nil, ErrEmptyResult
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat cleaned output: %w", err)
	}
	md5Hash, err := CalculateFileMD5(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum cleaned output: %w", err)
	}

	dict := &models.Dictionary{
		UserID:    ownerID,
		Name:      name,
		FilePath:  outPath,
		FileSize:  info.Size(),
		WordCount: report.ValidWords,
		MD5Hash:   md5Hash,
		Type:      models.DictionaryTypeGenerated,
		Status:    models.DictionaryStatusReady,
		Provenance: &models.DictionaryProvenance{
			SourceIDs:        []uuid.UUID{sourceID},
			RemoveDuplicates: true,
		},
	}
	if err := c.dictRepo.Create(ctx, dict); err != nil {
		return nil, err
	}
	committed = true

	report.Dictionary = dict
	debug.Info("Cleaned dictionary %s: %d valid, %d invalid, %d duplicates",
		source.ID, report.ValidWords, report.InvalidWords, report.DuplicateWords)
	return report, nil
}

// Delete removes a dictionary's backing file then its row.
func (c *Consolidator) Delete(ctx context.Context, ownerID, dictionaryID uuid.UUID) error {
	dict, err := c.dictRepo.GetByID(ctx, ownerID, dictionaryID)
	if err != nil {
		return err
	}
	if err := os.Remove(dict.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove dictionary file %s: %w", dict.FilePath, err)
	}
	return c.dictRepo.Delete(ctx, ownerID, dictionaryID)
}

// createOutput opens a fresh output file under the owner's dictionary
// directory. Outputs are owner-scoped so storage accounting can walk
// one directory per user.
func (c *Consolidator) createOutput(ownerID uuid.UUID) (string, *os.File, error) {
	ownerDir := filepath.Join(c.dictionariesDir, ownerID.String())
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create dictionary directory: %w", err)
	}
	outPath := filepath.Join(ownerDir, fmt.Sprintf("%s.txt", uuid.New()))
	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create dictionary output: %w", err)
	}
	return outPath, outFile, nil
}

// resolveSources loads the requested dictionaries, enforcing ownership
// and readiness. A missing or foreign id surfaces as ErrNotFound.
func (c *Consolidator) resolveSources(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]*models.Dictionary, error) {
	sources, err := c.dictRepo.ListByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}
	if len(sources) != len(ids) {
		return nil, fmt.Errorf("one or more dictionaries missing: %w", repository.ErrNotFound)
	}
	byID := make(map[uuid.UUID]*models.Dictionary, len(sources))
	for _, src := range sources {
		if src.Status != models.DictionaryStatusReady {
			return nil, fmt.Errorf("dictionary %s has status %s: %w", src.ID, src.Status, ErrSourceNotReady)
		}
		byID[src.ID] = src
	}
	// Preserve the requested order.
	ordered := make([]*models.Dictionary, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, byID[id])
	}
	return ordered, nil
}

// CountWordsInFile counts non-empty lines in a dictionary file.
func CountWordsInFile(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var count int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to count words: %w", err)
	}
	return count, nil
}

// CalculateFileMD5 computes the content hash of a dictionary file.
// Identical content is detectable via checksum even when names differ.
func CalculateFileMD5(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
