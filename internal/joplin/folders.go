package joplin

import "github.com/starford/decksync/internal/models"

// FolderTree is a read-only index over the notebook forest, built once per run.
type FolderTree struct {
	byID map[string]models.Folder
}

// NewFolderTree indexes folders by id.
func NewFolderTree(folders []models.Folder) *FolderTree {
	byID := make(map[string]models.Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}
	return &FolderTree{byID: byID}
}

// Title returns the title of a folder, or "" if unknown.
func (t *FolderTree) Title(id string) string {
	return t.byID[id].Title
}

// Path returns the folder titles from the root down to id. Unknown ids give
// nil; a parent cycle ends the walk at the first repeated folder.
func (t *FolderTree) Path(id string) []string {
	var rev []string
	seen := make(map[string]struct{})
	for id != "" {
		if _, dup := seen[id]; dup {
			break
		}
		seen[id] = struct{}{}
		f, ok := t.byID[id]
		if !ok {
			break
		}
		rev = append(rev, f.Title)
		id = f.ParentID
	}
	out := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Len returns the number of folders.
func (t *FolderTree) Len() int { return len(t.byID) }
