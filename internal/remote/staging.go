package remote

import "time"

// NewNodeSource tags why a staged creation exists.
type NewNodeSource int

const (
	// SourceUpload commits a finished local upload.
	SourceUpload NewNodeSource = iota
	// SourceCopy references an existing node's content (dedup copy
	// instead of re-upload).
	SourceCopy
	// SourceImport materializes a public node into the account.
	SourceImport
)

// UploadTokenLen is the length of the transfer layer's completion token.
const UploadTokenLen = 36

// NewNode batches one proposed remote-tree creation. It is produced when
// the engine decides a local change must be materialized remotely and
// consumed when the creation response commits it into a real Node.
type NewNode struct {
	NodeCore

	Source NewNodeSource

	// OVHandle is the node being replaced when this creation is an edit
	// of an existing file.
	OVHandle Handle

	// Upload correlation to the transfer layer.
	UploadHandle Handle
	UploadToken  [UploadTokenLen]byte

	// Sync correlation to the local tree: the owning sync job and the
	// local row id of the LocalNode awaiting this creation.
	SyncID   uint64
	LocalRef int64

	// FileAttrs is owned by the staging record until committed.
	FileAttrs *string

	// Added is set once the creation response has been applied.
	Added bool
}

// PublicLink records the lifecycle of a shareable link attached to a node.
type PublicLink struct {
	CTime     int64 `json:"cts"`
	ETime     int64 `json:"ets"` // 0 means the link never expires
	TakenDown bool  `json:"down,omitempty"`
}

// ExpiredAt reports whether the link has expired at the given instant.
func (l *PublicLink) ExpiredAt(now time.Time) bool {
	if l.ETime == 0 {
		return false
	}
	return now.Unix() >= l.ETime
}

// IsExpired reports whether the link has expired.
func (l *PublicLink) IsExpired() bool {
	return l.ExpiredAt(time.Now())
}
