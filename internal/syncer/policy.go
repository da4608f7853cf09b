package syncer

import "docketra/internal/models"

// ConflictPolicy decides, per event, which side of a reconciliation pass
// wins. The push and pull checks are independent: each compares one side's
// modification time against the last sync.
type ConflictPolicy interface {
	// ShouldPush reports whether a previously pushed local event carries
	// edits the provider has not seen.
	ShouldPush(local *models.Event) bool
	// ShouldPull reports whether the remote copy should overwrite local.
	ShouldPull(local *models.Event, remote *models.RemoteEvent) bool
}

// LastWriterWins lets the strictly newer side win. Equal timestamps keep
// the local state so a pass never rewrites what it just wrote.
type LastWriterWins struct{}

func (LastWriterWins) ShouldPush(local *models.Event) bool {
	if local.LastSync == nil {
		return true
	}
	return local.LastModified.After(*local.LastSync)
}

func (LastWriterWins) ShouldPull(local *models.Event, remote *models.RemoteEvent) bool {
	if local.LastSync == nil || remote.Updated.IsZero() {
		return true
	}
	return remote.Updated.After(*local.LastSync)
}
