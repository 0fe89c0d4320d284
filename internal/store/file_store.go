package store

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"github.com/rogpeppe/go-internal/lockedfile"

	"sealchat/internal/domain"
)

const (
	accountFile = "account.pickle"
	pairwiseDir = "pairwise"
	groupsDir   = "groups"
	locksDir    = "locks"
)

// groupFile is the on-disk form of a GroupSessionRecord.
type groupFile struct {
	OutboundID        domain.SessionID            `json:"outbound_id,omitempty"`
	Outbound          []byte                      `json:"outbound,omitempty"`
	MessageCount      int                         `json:"message_count"`
	OutboundCreatedAt time.Time                   `json:"outbound_created_at"`
	Inbound           map[domain.SessionID][]byte `json:"inbound"`
}

// FileStore keeps one file per key under dir.
type FileStore struct {
	dir string
	log slog.Logger
}

var (
	_ domain.SessionStore = (*FileStore)(nil)
	_ domain.Locker       = (*FileStore)(nil)
)

// NewFileStore returns a FileStore rooted at dir. log may be nil.
func NewFileStore(dir string, log slog.Logger) *FileStore {
	if log == nil {
		log = slog.Disabled
	}
	return &FileStore{dir: dir, log: log}
}

func (s *FileStore) GetAccount(_ context.Context) (domain.Pickle, bool, error) {
	b, err := readFile(filepath.Join(s.dir, accountFile))
	if err != nil || b == nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileStore) PutAccount(_ context.Context, p domain.Pickle) error {
	return writeFile(filepath.Join(s.dir, accountFile), p, 0o600)
}

func (s *FileStore) GetPairwiseSession(_ context.Context, device domain.DeviceID) (domain.Pickle, bool, error) {
	b, err := readFile(s.pairwisePath(device))
	if err != nil || b == nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileStore) PutPairwiseSession(_ context.Context, device domain.DeviceID, p domain.Pickle) error {
	return writeFile(s.pairwisePath(device), p, 0o600)
}

func (s *FileStore) GetGroupSession(_ context.Context, conv domain.ConversationID) (domain.GroupSessionRecord, bool, error) {
	var gf groupFile
	ok, err := readJSON(s.groupPath(conv), &gf)
	if err != nil || !ok {
		return domain.GroupSessionRecord{}, false, err
	}
	return gf.record(), true, nil
}

func (s *FileStore) PutGroupSession(ctx context.Context, conv domain.ConversationID, rec domain.GroupSessionRecord) error {
	return s.updateGroup(ctx, conv, func(gf *groupFile) {
		gf.OutboundID = rec.OutboundID
		gf.Outbound = rec.Outbound
		gf.MessageCount = rec.MessageCount
		gf.OutboundCreatedAt = rec.OutboundCreatedAt
		for id, p := range rec.Inbound {
			gf.Inbound[id] = p
		}
	})
}

func (s *FileStore) AddInboundGroupSession(ctx context.Context, conv domain.ConversationID, id domain.SessionID, p domain.Pickle) error {
	return s.updateGroup(ctx, conv, func(gf *groupFile) {
		gf.Inbound[id] = p
	})
}

func (s *FileStore) IncrementGroupMessageCount(ctx context.Context, conv domain.ConversationID) (int, error) {
	var n int
	err := s.updateGroup(ctx, conv, func(gf *groupFile) {
		gf.MessageCount++
		n = gf.MessageCount
	})
	return n, err
}

// Lock takes an exclusive lock file for key. It blocks other processes
// sharing the same directory as well as other goroutines.
func (s *FileStore) Lock(ctx context.Context, key string) (func(), error) {
	return lockPath(ctx, filepath.Join(s.dir, locksDir, encodeName(key)+".lock"))
}

// updateGroup applies fn to the group record under the record's own file
// lock, so read-modify-write cycles from different processes do not
// interleave.
func (s *FileStore) updateGroup(ctx context.Context, conv domain.ConversationID, fn func(*groupFile)) error {
	path := s.groupPath(conv)
	unlock, err := lockPath(ctx, path+".lock")
	if err != nil {
		return err
	}
	defer unlock()

	var gf groupFile
	if _, err := readJSON(path, &gf); err != nil {
		return err
	}
	if gf.Inbound == nil {
		gf.Inbound = make(map[domain.SessionID][]byte)
	}
	fn(&gf)
	return writeJSON(path, gf, 0o600)
}

func (s *FileStore) pairwisePath(device domain.DeviceID) string {
	return filepath.Join(s.dir, pairwiseDir, encodeName(device.String())+".pickle")
}

func (s *FileStore) groupPath(conv domain.ConversationID) string {
	return filepath.Join(s.dir, groupsDir, encodeName(conv.String())+".json")
}

func (gf groupFile) record() domain.GroupSessionRecord {
	rec := domain.GroupSessionRecord{
		OutboundID:        gf.OutboundID,
		Outbound:          gf.Outbound,
		MessageCount:      gf.MessageCount,
		OutboundCreatedAt: gf.OutboundCreatedAt,
		Inbound:           make(map[domain.SessionID]domain.Pickle, len(gf.Inbound)),
	}
	for id, p := range gf.Inbound {
		rec.Inbound[id] = p
	}
	return rec
}

// encodeName maps an identifier to a safe file name.
func encodeName(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// lockPath acquires the lockedfile mutex at path, giving up when ctx is
// done. A lock acquired after ctx is done is released immediately.
func lockPath(ctx context.Context, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	type result struct {
		unlock func()
		err    error
	}
	c := make(chan result, 1)
	go func() {
		unlock, err := lockedfile.MutexAt(path).Lock()
		c <- result{unlock, err}
	}()

	select {
	case r := <-c:
		return r.unlock, r.err
	case <-ctx.Done():
		go func() {
			if r := <-c; r.err == nil {
				r.unlock()
			}
		}()
		return nil, ctx.Err()
	}
}
