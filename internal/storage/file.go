package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "mushqueue/pkg/logx"

	"github.com/spf13/afero"
)

const defaultCompactEvery = 1000

// fileStore persists the object table as plain files.
//
// Files:
//   - <prefix>.snapshot.json  (full table, rewritten on compaction)
//   - <prefix>.journal.jsonl  (append-only, one object per mutation)
//
// Replay loads the snapshot, then applies the journal; the last record for
// an object wins.
type fileStore struct {
	*memStore

	log          logx.Logger
	fs           afero.Fs
	snapshotPath string
	journal      afero.File

	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	return OpenFileStore(afero.NewOsFs(), cfg, log)
}

// OpenFileStore opens the file driver on an arbitrary filesystem.
func OpenFileStore(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		memStore:     newMemStore(),
		log:          log,
		fs:           fs,
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: cfg.CompactEvery,
	}
	if st.compactEvery <= 0 {
		st.compactEvery = defaultCompactEvery
	}
	journalPath := prefix + ".journal.jsonl"

	if err := st.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := st.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journal = jf
	st.persist = st.appendJournal
	st.written = st.maybeCompact
	return st, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := afero.ReadFile(s.fs, s.snapshotPath)
	if err != nil {
		return err
	}
	var objs []Object
	if err := json.Unmarshal(b, &objs); err != nil {
		return err
	}
	for _, o := range objs {
		s.load(o)
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	n := 0
	for sc.Scan() {
		var o Object
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			// A torn tail write is expected after a crash.
			s.log.Warn("skipping bad journal line", logx.Int("line", n+1), logx.Err(err))
			continue
		}
		s.load(o)
		n++
	}
	return sc.Err()
}

// appendJournal runs under memStore.mu.
func (s *fileStore) appendJournal(o Object) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(o); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompact runs after a journaled write is installed in the table.
func (s *fileStore) maybeCompact() {
	if s.writes == 0 || s.writes%s.compactEvery != 0 {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	objs := s.snapshotLocked()
	sort.Slice(objs, func(i, j int) bool { return objs[i].Ref < objs[j].Ref })
	b, err := json.Marshal(objs)
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

// Checkpoint folds the journal into a fresh snapshot.
func (s *fileStore) Checkpoint(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.compactLocked()
	s.closed = true
	if s.journal != nil {
		if cerr := s.journal.Close(); err == nil {
			err = cerr
		}
		s.journal = nil
	}
	return err
}
