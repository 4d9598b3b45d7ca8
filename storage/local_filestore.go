package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kaveri/deedscan/pipeline"
)

// LocalFileStore implements pipeline.FileStore over a local directory tree
// with the four fixed, flat subdirectories: inbox/, processed/, failed/,
// retry_fee/. Batch membership is encoded in the filename, not a
// subdirectory, per the on-disk layout spec §4.A names:
// inbox/<batch_id>__<document_id>.pdf, processed/<document_id>.pdf,
// failed/<batch_id>__<document_id>.pdf. Moves within the root are plain
// renames; moves that would cross a filesystem boundary (root on a
// different volume than a source path) fall back to
// copy-then-rename-then-remove, matching the "never leave a half-written
// destination visible" rename convention storage/s3_filestore.go's
// CopyObject+DeleteObject pair follows for the same operation.
type LocalFileStore struct {
	root string
	log  *logrus.Entry

	mu   sync.Mutex
	seen map[string]int // batchID/stem -> admitted count, for collision suffixing
}

const (
	dirInbox     = "inbox"
	dirProcessed = "processed"
	dirFailed    = "failed"
	dirRetryFee  = "retry_fee"

	batchPrefixSep = "__"
)

// NewLocalFileStore creates the four fixed subdirectories under root if
// they don't already exist.
func NewLocalFileStore(root string, log *logrus.Entry) (*LocalFileStore, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	for _, d := range []string{dirInbox, dirProcessed, dirFailed, dirRetryFee} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return &LocalFileStore{
		root: root,
		log:  log.WithField("component", "local_filestore"),
		seen: make(map[string]int),
	}, nil
}

// inboxName returns the <batch_id>__<document_id>.ext filename spec §4.A
// requires, so CollectFailed and Claim can recover batch membership from a
// flat directory listing without a subdirectory per batch.
func inboxName(batchID, documentID, ext string) string {
	return batchID + batchPrefixSep + documentID + ext
}

// splitInboxName reverses inboxName, returning the batch id and the
// document-id-plus-extension portion of name. ok is false if name doesn't
// carry the "__" batch prefix.
func splitInboxName(name string) (batchID, rest string, ok bool) {
	i := strings.Index(name, batchPrefixSep)
	if i < 0 {
		return "", name, false
	}
	return name[:i], name[i+len(batchPrefixSep):], true
}

// documentStem derives a clean document-id stem from a source filename,
// stripping any "<batch_id>__" prefix a retried failed/ file already
// carries so a retried document doesn't accumulate one prefix per attempt.
func documentStem(base string) string {
	if _, rest, ok := splitInboxName(base); ok {
		return rest
	}
	return base
}

// Admit moves srcPaths into inbox/, deriving a document id from each
// file's stem and suffixing with "_N" on a collision (scenario 6 of spec
// §8).
func (s *LocalFileStore) Admit(ctx context.Context, batchID string, srcPaths []string) ([]string, []string, error) {
	inboxDir := filepath.Join(s.root, dirInbox)

	ids := make([]string, 0, len(srcPaths))
	admitted := make([]string, 0, len(srcPaths))

	for _, src := range srcPaths {
		ext := filepath.Ext(src)
		stem := documentStem(strings.TrimSuffix(filepath.Base(src), ext))
		docID := s.nextDocumentID(batchID, stem)

		dst := filepath.Join(inboxDir, inboxName(batchID, docID, ext))
		if err := moveFile(src, dst); err != nil {
			return nil, nil, fmt.Errorf("admitting %s: %w", src, err)
		}

		ids = append(ids, docID)
		admitted = append(admitted, dst)
	}

	s.log.WithFields(logrus.Fields{"batch_id": batchID, "count": len(admitted)}).Info("documents admitted")
	return ids, admitted, nil
}

// nextDocumentID returns stem, or stem_N if stem has already been used
// within batchID (scoped per batch, since document ids are batch-unique).
func (s *LocalFileStore) nextDocumentID(batchID, stem string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := batchID + "/" + stem
	n := s.seen[key]
	s.seen[key] = n + 1
	if n == 0 {
		return stem
	}
	return fmt.Sprintf("%s_%d", stem, n)
}

// Claim lists every inbox/ file whose batch prefix matches batchID, in a
// stable (lexicographic) order.
func (s *LocalFileStore) Claim(ctx context.Context, batchID string) ([]string, error) {
	return s.listBatchPrefixed(filepath.Join(s.root, dirInbox), batchID)
}

// Route moves sourcePath to processed/ or failed/. processed/ drops the
// batch prefix (a succeeded document no longer needs batch membership
// recoverable from its name); failed/ keeps it, so CollectFailed can
// recover the owning batch. Never overwrites an existing destination.
func (s *LocalFileStore) Route(ctx context.Context, sourcePath string, outcome pipeline.Outcome) error {
	name := filepath.Base(sourcePath)
	batchID, rest, ok := splitInboxName(name)
	if !ok {
		return fmt.Errorf("storage: %q does not carry a batch_id__document_id name", name)
	}

	if outcome == pipeline.OutcomeSucceeded {
		dest := uniqueDestination(filepath.Join(s.root, dirProcessed), rest)
		return moveFile(sourcePath, dest)
	}

	dest := uniqueDestination(filepath.Join(s.root, dirFailed), name)
	_ = batchID
	return moveFile(sourcePath, dest)
}

// CollectFailed enumerates failed/, optionally filtered to one batch's
// files (spec §4.A: "optionally filtered by embedded batch prefix"). An
// empty batchID returns every failed document across all batches, the
// unfiltered mode a retry-all-batches UI would need.
func (s *LocalFileStore) CollectFailed(ctx context.Context, batchID string) ([]string, error) {
	if batchID == "" {
		return s.listAll(filepath.Join(s.root, dirFailed))
	}
	return s.listBatchPrefixed(filepath.Join(s.root, dirFailed), batchID)
}

func (s *LocalFileStore) listBatchPrefixed(dir, batchID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	prefix := batchID + batchPrefixSep
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *LocalFileStore) listAll(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// uniqueDestination appends a numeric suffix to name if it already exists
// under dir, so Route never silently overwrites a prior document.
func uniqueDestination(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// moveFile renames src to dst, falling back to copy-then-rename-then-remove
// when the rename fails because src and dst live on different volumes
// (syscall.EXDEV surfaces as a generic *LinkError on most platforms). The
// copy goes to a dot-prefixed temporary file beside dst and is renamed to
// dst only once complete.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, dst, err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing source %s after copy: %w", src, err)
	}
	return nil
}

var _ pipeline.FileStore = (*LocalFileStore)(nil)
