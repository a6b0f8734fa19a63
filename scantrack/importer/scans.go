package importer

import (
	"context"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hyecorp/scantrack/scantrack/store"
)

// WriteOutcome classifies a scan write for the caller's report.
type WriteOutcome string

const (
	WriteCreated   WriteOutcome = "created"
	WriteDuplicate WriteOutcome = "duplicate"
	WriteError     WriteOutcome = "error"
)

// ScanResult is the per-row outcome of the scan writer.
type ScanResult struct {
	Path    string
	Outcome WriteOutcome
	Message string
}

// ScanDocPath builds the immutable scan record path for one row.
func ScanDocPath(key EntityKey, timestamp int64) string {
	return "scans/" + key.String() + "/" + strconv.FormatInt(timestamp, 10)
}

// ScanRecordData builds the immutable scan record body.
func ScanRecordData(nr NormalizedRow, now time.Time) map[string]any {
	columns := make(map[string]any, len(nr.Row))
	for k, v := range nr.Row {
		columns[k] = v
	}
	return map[string]any{
		"kind":      string(nr.Key.Kind),
		"id":        nr.Key.ID,
		"server":    nr.Key.Server,
		"timestamp": nr.Timestamp,
		"columns":   columns,
		"createdAt": now.Unix(),
	}
}

// BatchExecutor writes a list of create-only scan docs and classifies every
// outcome. Implementations must not let one row's failure affect another's.
type BatchExecutor interface {
	WriteScans(ctx context.Context, st store.DocStore, docs []store.Doc) []ScanResult
}

// BulkExecutor issues all creates concurrently, bounded by a semaphore.
// Row ordering is irrelevant: every doc targets a distinct key.
type BulkExecutor struct {
	Concurrency int64
}

func (e BulkExecutor) WriteScans(ctx context.Context, st store.DocStore, docs []store.Doc) []ScanResult {
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := semaphore.NewWeighted(concurrency)
	results := make([]ScanResult, len(docs))

	var g errgroup.Group
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = ScanResult{Path: doc.Path, Outcome: WriteError, Message: err.Error()}
				return nil
			}
			defer sem.Release(1)
			results[i] = writeOne(ctx, st, doc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SequentialExecutor is the fallback when concurrent writes are not wanted;
// it tries docs in path order and classifies identically.
type SequentialExecutor struct{}

func (SequentialExecutor) WriteScans(ctx context.Context, st store.DocStore, docs []store.Doc) []ScanResult {
	ordered := make([]store.Doc, len(docs))
	copy(ordered, docs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })

	results := make([]ScanResult, len(ordered))
	for i, doc := range ordered {
		results[i] = writeOne(ctx, st, doc)
	}
	return results
}

func writeOne(ctx context.Context, st store.DocStore, doc store.Doc) ScanResult {
	outcome, err := st.CreateIfAbsent(ctx, doc.Path, doc.Data)
	switch {
	case err != nil:
		return ScanResult{Path: doc.Path, Outcome: WriteError, Message: err.Error()}
	case outcome == store.OutcomeAlreadyExists:
		return ScanResult{Path: doc.Path, Outcome: WriteDuplicate}
	default:
		return ScanResult{Path: doc.Path, Outcome: WriteCreated}
	}
}
