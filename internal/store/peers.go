package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertPeer inserts or replaces the peer keyed by address.
func (s *Store) UpsertPeer(address, username string, seenAt time.Time) {
	if seenAt.IsZero() {
		seenAt = s.now()
	}
	peer := Peer{Address: address, Username: username, LastSeen: unixSeconds(seenAt)}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		UpdateAll: true,
	}).Create(&peer).Error
	if err != nil {
		s.fail("upsert_peer", err)
	}
}

// PeerName returns the last username stored for address.
func (s *Store) PeerName(address string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var peer Peer
	err := s.db.Where("ip_address = ?", address).Take(&peer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		s.fail("peer_name", err)
		return "", false
	}
	return peer.Username, true
}

// AllPeers returns every stored peer, most recently seen first.
func (s *Store) AllPeers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var peers []Peer
	if err := s.db.Order("last_seen desc").Find(&peers).Error; err != nil {
		s.fail("all_peers", err)
		return nil
	}
	return peers
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(f float64) time.Time {
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}
