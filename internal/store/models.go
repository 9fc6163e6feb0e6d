package store

// Sender values as persisted. "ME" is the local user.
const (
	SenderSelf = "ME"
	SenderPeer = "PEER"
)

// Message kinds
const (
	KindText = "TEXT"
	KindFile = "FILE"
)

// DecryptFailed replaces the content of a row that no longer decrypts.
const DecryptFailed = "[Decryption Failed]"

// Peer is the persisted record of a peer that was seen at least once.
// Column names match databases written by earlier releases.
type Peer struct {
	Address  string  `gorm:"column:ip_address;primaryKey" json:"ip_address"`
	Username string  `gorm:"column:username;not null" json:"username"`
	LastSeen float64 `gorm:"column:last_seen;not null" json:"last_seen"`
}

func (Peer) TableName() string { return "peers" }

// Message is a stored row. Payload holds ciphertext.
type Message struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	PeerAddress string  `gorm:"column:peer_ip;not null;index:idx_messages_peer"`
	Sender      string  `gorm:"column:sender;not null"`
	Payload     []byte  `gorm:"column:content;not null"`
	Kind        string  `gorm:"column:message_type;not null"`
	Timestamp   float64 `gorm:"column:timestamp;not null;index:idx_messages_timestamp"`
	FilePath    *string `gorm:"column:file_path"`
}

func (Message) TableName() string { return "messages" }

// Entry is a decrypted history row.
type Entry struct {
	ID        int64   `json:"id"`
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	Kind      string  `json:"message_type"`
	Timestamp float64 `json:"timestamp"`
	FilePath  string  `json:"file_path,omitempty"`
}

// Stats summarises the message table. Oldest and Newest are nil when empty.
type Stats struct {
	TotalMessages int64    `json:"total_messages"`
	TotalPeers    int64    `json:"total_peers"`
	Oldest        *float64 `json:"oldest_timestamp"`
	Newest        *float64 `json:"newest_timestamp"`
}
