// Package models defines the domain types shared by the sync pipeline.
package models

import "time"

// Folder is a notebook in the source knowledge base. Folders form a forest.
type Folder struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parent_id"`
}

// Note is a read-only snapshot of a source note for the duration of one run.
type Note struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ParentID    string     `json:"parent_id"`
	UpdatedTime int64      `json:"updated_time"`
	Tags        []string   `json:"-"`
	Resources   []Resource `json:"-"`
}

// Updated returns the note's modification time.
func (n Note) Updated() time.Time {
	return time.UnixMilli(n.UpdatedTime)
}

// Resource is a file attached to a source note.
type Resource struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	FileExtension string `json:"file_extension"`
}

// DefaultExtension is used when a resource's extension is unknown.
const DefaultExtension = "png"

// Filename returns the flat media filename the resource is uploaded under.
func (r Resource) Filename() string {
	ext := r.FileExtension
	if ext == "" {
		ext = DefaultExtension
	}
	return r.ID + "." + ext
}
