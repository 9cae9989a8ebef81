package models

import (
	"strings"
	"time"
)

type LinkKind string

const (
	LinkKindFile   LinkKind = "file"
	LinkKindFolder LinkKind = "folder"
)

type PipelineState string

const (
	PipelineStateIdle      PipelineState = "idle"
	PipelineStateRunning   PipelineState = "running"
	PipelineStatePaused    PipelineState = "paused"
	PipelineStateCancelled PipelineState = "cancelled"
	PipelineStateDone      PipelineState = "done"
	PipelineStateFailed    PipelineState = "failed"
)

func (s PipelineState) Active() bool {
	return s == PipelineStateRunning || s == PipelineStatePaused
}

func (s PipelineState) Terminal() bool {
	return s == PipelineStateCancelled || s == PipelineStateDone || s == PipelineStateFailed
}

// Link - один элемент ответа листинга папки.
type Link struct {
	LinkID    string   `json:"link_id"`
	Name      string   `json:"name"`
	Kind      LinkKind `json:"type"`
	Size      int64    `json:"size,omitempty"`
	MediaType string   `json:"mime_type,omitempty"`
}

// Entry - найденный узел дерева с путем относительно корневой папки.
type Entry struct {
	ShareID    string
	LinkID     string
	Kind       LinkKind
	Name       string
	ParentPath []string
	Size       int64
	MediaType  string
}

func (e Entry) IsFolder() bool {
	return e.Kind == LinkKindFolder
}

// ArchivePath не нормализует путь: имена проверяются через ValidName
// при обходе дерева.
func (e Entry) ArchivePath() string {
	elems := make([]string, 0, len(e.ParentPath)+1)
	elems = append(elems, e.ParentPath...)
	elems = append(elems, e.Name)

	p := strings.Join(elems, "/")
	if e.IsFolder() {
		p += "/"
	}
	return p
}

// ValidName сообщает, годится ли имя как один сегмент пути в архиве.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

type Download struct {
	ID             string        `json:"id"`
	ShareID        string        `json:"share_id"`
	LinkID         string        `json:"link_id"`
	State          PipelineState `json:"state"`
	TotalSize      int64         `json:"total_size"`
	SizeKnown      bool          `json:"size_known"`
	WrittenEntries int           `json:"written_entries"`
	WrittenBytes   int64         `json:"written_bytes"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Error          string        `json:"error,omitempty"`
}
