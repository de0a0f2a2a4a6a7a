package remote

import (
	"encoding/json"
	"fmt"

	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// nodeRecord is the persisted form of a Node. Parent linkage is carried as
// the parent handle; dirty flags and tree pointers are transient and
// rebuilt on reload.
type nodeRecord struct {
	Handle       uint64            `json:"h"`
	ParentHandle uint64            `json:"p,omitempty"`
	Kind         int               `json:"t"`
	NodeKey      []byte            `json:"k,omitempty"`
	AttrString   []byte            `json:"as,omitempty"`
	Attrs        map[string]string `json:"at,omitempty"`
	Owner        uint64            `json:"o,omitempty"`
	CTime        int64             `json:"ct,omitempty"`
	FileAttrs    string            `json:"fa,omitempty"`
	Fingerprint  string            `json:"fp,omitempty"`
	ForeignKey   bool              `json:"fk,omitempty"`
	InShare      *shareRecord      `json:"is,omitempty"`
	OutShares    []shareRecord     `json:"os,omitempty"`
	Pending      []shareRecord     `json:"ps,omitempty"`
	Link         *PublicLink       `json:"pl,omitempty"`
}

type shareRecord struct {
	User   uint64 `json:"u"`
	Access int    `json:"a"`
}

// Serialize encodes the node for the local cache store.
func (n *Node) Serialize() ([]byte, error) {
	rec := nodeRecord{
		Handle:       uint64(n.Handle),
		ParentHandle: uint64(n.ParentHandle),
		Kind:         int(n.Kind),
		NodeKey:      n.NodeKey,
		AttrString:   n.AttrString,
		Attrs:        n.Attrs,
		Owner:        uint64(n.Owner),
		CTime:        n.CTime,
		FileAttrs:    n.FileAttrs,
		Fingerprint:  n.Fingerprint.String(),
		ForeignKey:   n.ForeignKey,
		Link:         n.Link,
	}
	if n.InShare != nil {
		rec.InShare = &shareRecord{User: uint64(n.InShare.User), Access: int(n.InShare.Access)}
	}
	for _, s := range n.OutShares {
		rec.OutShares = append(rec.OutShares, shareRecord{User: uint64(s.User), Access: int(s.Access)})
	}
	for _, s := range n.PendingShares {
		rec.Pending = append(rec.Pending, shareRecord{User: uint64(s.User), Access: int(s.Access)})
	}
	return json.Marshal(rec)
}

// UnserializeNode decodes a cached node record. A truncated or corrupt
// record returns an error so the caller can skip it without aborting the
// whole reload.
func UnserializeNode(data []byte) (*Node, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode node record: %w", err)
	}
	if rec.Handle == 0 {
		return nil, fmt.Errorf("node record has no handle")
	}

	n := &Node{
		NodeCore: NodeCore{
			Handle:       Handle(rec.Handle),
			ParentHandle: Handle(rec.ParentHandle),
			Kind:         Kind(rec.Kind),
			NodeKey:      rec.NodeKey,
			AttrString:   rec.AttrString,
		},
		Attrs:       rec.Attrs,
		Owner:       Handle(rec.Owner),
		CTime:       rec.CTime,
		FileAttrs:   rec.FileAttrs,
		Fingerprint: fingerprint.Parse(rec.Fingerprint),
		ForeignKey:  rec.ForeignKey,
		Link:        rec.Link,
	}
	if n.Attrs == nil {
		n.Attrs = AttrMap{}
	}
	if rec.InShare != nil {
		n.InShare = &Share{User: Handle(rec.InShare.User), Access: AccessLevel(rec.InShare.Access)}
	}
	for _, s := range rec.OutShares {
		if n.OutShares == nil {
			n.OutShares = make(map[Handle]*Share)
		}
		n.OutShares[Handle(s.User)] = &Share{User: Handle(s.User), Access: AccessLevel(s.Access)}
	}
	for _, s := range rec.Pending {
		if n.PendingShares == nil {
			n.PendingShares = make(map[Handle]*Share)
		}
		n.PendingShares[Handle(s.User)] = &Share{User: Handle(s.User), Access: AccessLevel(s.Access)}
	}
	return n, nil
}
