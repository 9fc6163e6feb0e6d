package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// SaveMessage seals content and appends a row. A zero ts means now. The file
// path is only kept for FILE rows.
func (s *Store) SaveMessage(peer, sender, content, kind, filePath string, ts time.Time) {
	if ts.IsZero() {
		ts = s.now()
	}
	payload, err := s.cipher.Encrypt([]byte(content))
	if err != nil {
		s.fail("save_message", fmt.Errorf("encrypt: %w", err))
		return
	}
	msg := Message{
		PeerAddress: peer,
		Sender:      sender,
		Payload:     payload,
		Kind:        kind,
		Timestamp:   unixSeconds(ts),
	}
	if kind == KindFile {
		msg.FilePath = &filePath
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(&msg).Error; err != nil {
		s.fail("save_message", err)
	}
}

// History returns up to limit of the most recent messages with peer, oldest
// first. A row that fails to decrypt carries DecryptFailed as its content.
func (s *Store) History(peer string, limit int) []Entry {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	var rows []Message
	err := s.db.Where("peer_ip = ?", peer).
		Order("timestamp desc").Order("id desc").
		Limit(limit).Find(&rows).Error
	s.mu.Unlock()
	if err != nil {
		s.fail("history", err)
		return nil
	}

	entries := make([]Entry, len(rows))
	for i, row := range rows {
		e := Entry{ID: row.ID, Sender: row.Sender, Kind: row.Kind, Timestamp: row.Timestamp}
		if row.FilePath != nil {
			e.FilePath = *row.FilePath
		}
		plain, err := s.cipher.Decrypt(row.Payload)
		if err != nil || !utf8.Valid(plain) {
			e.Content = DecryptFailed
		} else {
			e.Content = string(plain)
		}
		entries[len(rows)-1-i] = e
	}
	return entries
}

// CleanupOlderThan deletes messages strictly older than now-hours. Peer rows
// are left alone.
func (s *Store) CleanupOlderThan(hours int) int64 {
	cutoff := unixSeconds(s.now().Add(-time.Duration(hours) * time.Hour))
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Where("timestamp < ?", cutoff).Delete(&Message{})
	if res.Error != nil {
		s.fail("cleanup", res.Error)
		return 0
	}
	return res.RowsAffected
}

func (s *Store) DeleteHistory(peer string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.db.Where("peer_ip = ?", peer).Delete(&Message{})
	if res.Error != nil {
		s.fail("delete_history", res.Error)
		return 0
	}
	return res.RowsAffected
}

// RemoveReceivedFiles deletes every file recorded as received from a peer and
// returns how many were removed. Files this node sent belong to the user and
// are left alone.
func (s *Store) RemoveReceivedFiles() int {
	var paths []string
	s.mu.Lock()
	err := s.db.Model(&Message{}).
		Where("sender = ? AND message_type = ? AND file_path IS NOT NULL", SenderPeer, KindFile).
		Pluck("file_path", &paths).Error
	s.mu.Unlock()
	if err != nil {
		s.fail("remove_received_files", err)
		return 0
	}

	removed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		switch err := os.Remove(p); {
		case err == nil:
			removed++
		case !errors.Is(err, fs.ErrNotExist):
			s.fail("remove_received_files", err)
		}
	}
	return removed
}

func (s *Store) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	if err := s.db.Model(&Message{}).Count(&st.TotalMessages).Error; err != nil {
		s.fail("statistics", err)
		return Stats{}
	}
	if err := s.db.Model(&Peer{}).Count(&st.TotalPeers).Error; err != nil {
		s.fail("statistics", err)
		return Stats{}
	}
	if st.TotalMessages == 0 {
		return st
	}
	var bounds struct {
		Oldest float64
		Newest float64
	}
	err := s.db.Model(&Message{}).
		Select("MIN(timestamp) AS oldest, MAX(timestamp) AS newest").
		Scan(&bounds).Error
	if err != nil {
		s.fail("statistics", err)
		return st
	}
	st.Oldest, st.Newest = &bounds.Oldest, &bounds.Newest
	return st
}

// ExportPlaintext writes a readable transcript of the conversation with peer
// to dest. It reports whether the file was written.
func (s *Store) ExportPlaintext(peer, dest string) bool {
	entries := s.History(peer, 10000)
	name, ok := s.PeerName(peer)
	if !ok {
		name = peer
	}

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.fail("export", err)
			return false
		}
	}
	f, err := os.Create(dest)
	if err != nil {
		s.fail("export", err)
		return false
	}
	w := bufio.NewWriter(f)
	w.WriteString("Ghost Net Chat History\n")
	fmt.Fprintf(w, "Peer: %s (%s)\n", name, peer)
	fmt.Fprintf(w, "Exported: %s\n", s.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 60))
	for _, e := range entries {
		who := name
		if e.Sender == SenderSelf {
			who = "You"
		}
		stamp := fromUnixSeconds(e.Timestamp).Format("2006-01-02 15:04:05")
		if e.Kind == KindFile {
			fmt.Fprintf(w, "[%s] %s: [FILE] %s\n", stamp, who, e.Content)
			if e.FilePath != "" {
				fmt.Fprintf(w, "    Path: %s\n", e.FilePath)
			}
		} else {
			fmt.Fprintf(w, "[%s] %s: %s\n", stamp, who, e.Content)
		}
		w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		s.fail("export", err)
		return false
	}
	if err := f.Close(); err != nil {
		s.fail("export", err)
		return false
	}
	return true
}
