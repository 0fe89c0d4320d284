package store

import (
	"bytes"
	"context"
	"sync"

	"sealchat/internal/domain"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	account  domain.Pickle
	pairwise map[domain.DeviceID]domain.Pickle
	groups   map[domain.ConversationID]domain.GroupSessionRecord
}

var _ domain.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairwise: make(map[domain.DeviceID]domain.Pickle),
		groups:   make(map[domain.ConversationID]domain.GroupSessionRecord),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context) (domain.Pickle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil, false, nil
	}
	return bytes.Clone(s.account), true, nil
}

func (s *MemoryStore) PutAccount(_ context.Context, p domain.Pickle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = bytes.Clone(p)
	return nil
}

func (s *MemoryStore) GetPairwiseSession(_ context.Context, device domain.DeviceID) (domain.Pickle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairwise[device]
	return bytes.Clone(p), ok, nil
}

func (s *MemoryStore) PutPairwiseSession(_ context.Context, device domain.DeviceID, p domain.Pickle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairwise[device] = bytes.Clone(p)
	return nil
}

func (s *MemoryStore) GetGroupSession(_ context.Context, conv domain.ConversationID) (domain.GroupSessionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.groups[conv]
	if !ok {
		return domain.GroupSessionRecord{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *MemoryStore) PutGroupSession(_ context.Context, conv domain.ConversationID, rec domain.GroupSessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.groups[conv]
	merged := cloneRecord(rec)
	for id, p := range cur.Inbound {
		if _, ok := merged.Inbound[id]; !ok {
			merged.Inbound[id] = p
		}
	}
	s.groups[conv] = merged
	return nil
}

func (s *MemoryStore) AddInboundGroupSession(_ context.Context, conv domain.ConversationID, id domain.SessionID, p domain.Pickle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.groups[conv]
	if rec.Inbound == nil {
		rec.Inbound = make(map[domain.SessionID]domain.Pickle)
	}
	rec.Inbound[id] = bytes.Clone(p)
	s.groups[conv] = rec
	return nil
}

func (s *MemoryStore) IncrementGroupMessageCount(_ context.Context, conv domain.ConversationID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.groups[conv]
	rec.MessageCount++
	if rec.Inbound == nil {
		rec.Inbound = make(map[domain.SessionID]domain.Pickle)
	}
	s.groups[conv] = rec
	return rec.MessageCount, nil
}

func cloneRecord(rec domain.GroupSessionRecord) domain.GroupSessionRecord {
	out := rec
	out.Outbound = bytes.Clone(rec.Outbound)
	out.Inbound = make(map[domain.SessionID]domain.Pickle, len(rec.Inbound))
	for id, p := range rec.Inbound {
		out.Inbound[id] = bytes.Clone(p)
	}
	return out
}
