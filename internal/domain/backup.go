package domain

import "time"

// BackupRecord is a point-in-time snapshot of one unit's persistent state.
type BackupRecord struct {
	ID               string    `json:"id"`
	ServiceID        string    `json:"serviceId"`
	CreatedAt        time.Time `json:"createdAt"`
	StorageLocation  string    `json:"storageLocation"`
	SizeBytes        int64     `json:"sizeBytes"`
	SourceVersionRef string    `json:"sourceVersionRef"`
	Checksum         string    `json:"checksum"` // hex sha256 of the archive
}
