package api

// Pause, Resume, Cancel
type controlReq struct {
	DownloadID string `json:"download_id"`
}

type controlResp struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// GetDownloadStatus
type getDownloadStatusResp struct {
	ID             string   `json:"id"`
	ShareID        string   `json:"share_id"`
	LinkID         string   `json:"link_id"`
	State          string   `json:"state"`
	TotalSize      int64    `json:"total_size"`
	SizeKnown      bool     `json:"size_known"`
	WrittenEntries int      `json:"written_entries"`
	WrittenBytes   int64    `json:"written_bytes"`
	Progress       *float64 `json:"progress,omitempty"`
	Error          string   `json:"error,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}
