package local

import (
	"encoding/json"
	"fmt"

	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// localRecord is the persisted form of a local node. ParentRow is the
// parent's database row id, used to rebuild the tree on reload — it is
// deliberately distinct from the in-memory parent pointer. Scan counters,
// sync states and the debounce timer are transient.
type localRecord struct {
	RowID        int64  `json:"id"`
	ParentRow    int64  `json:"pid,omitempty"`
	Kind         int    `json:"t"`
	Name         string `json:"n"`
	ShortName    string `json:"sn,omitempty"`
	FSID         uint64 `json:"fsid,omitempty"`
	RemoteHandle uint64 `json:"h,omitempty"`
	Fingerprint  string `json:"fp,omitempty"`
}

// Serialize encodes the node for the local cache store.
func (n *Node) Serialize() ([]byte, error) {
	rec := localRecord{
		RowID:       n.RowID,
		Kind:        int(n.Kind),
		Name:        n.Name,
		ShortName:   n.ShortName,
		FSID:        n.FSID,
		Fingerprint: n.Fingerprint.String(),
	}
	if n.parent != nil {
		rec.ParentRow = n.parent.RowID
	}
	if n.Remote != nil {
		rec.RemoteHandle = uint64(n.Remote.Handle)
	}
	return json.Marshal(rec)
}

// Unserialized is a decoded local-node record plus the linkage ids the
// caller resolves against its own tree and the remote tree.
type Unserialized struct {
	Node         *Node
	ParentRow    int64
	RemoteHandle remote.Handle
}

// Unserialize decodes a cached local-node record. Corrupt records return
// an error so reload can skip them.
func Unserialize(data []byte) (*Unserialized, error) {
	var rec localRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode local record: %w", err)
	}
	if rec.Name == "" {
		return nil, fmt.Errorf("local record has no name")
	}

	n := &Node{
		Kind:        remote.Kind(rec.Kind),
		Name:        rec.Name,
		ShortName:   rec.ShortName,
		FSID:        rec.FSID,
		Fingerprint: fingerprint.Parse(rec.Fingerprint),
		RowID:       rec.RowID,
		children:    make(map[string]*Node),
		schildren:   make(map[string]*Node),
	}
	return &Unserialized{
		Node:         n,
		ParentRow:    rec.ParentRow,
		RemoteHandle: remote.Handle(rec.RemoteHandle),
	}, nil
}
