package store

import "tradecore/internal/seqnum"

// SnapshotRequest is emitted when the store needs the transport to fetch
// a replay, per spec.md §4.2.1's onRequestSnapshot contract.
type SnapshotRequest struct {
	Channel  string
	Params   map[string]string
	SinceSeq seqnum.Seq
}
