package domain

// ManifestEntry is one remote file belonging to a study.
type ManifestEntry struct {
	OwnerID    string `json:"owner_id"`
	OwnerLabel string `json:"owner_label"`
	SourceURL  string `json:"source_url"`
}

// DownloadTask pairs an entry with the local path it is written to.
type DownloadTask struct {
	Entry           ManifestEntry
	DestinationPath string
}
