// Package diff compares the contents of two package versions.
package diff

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/git-pkgs/feed/internal/archive"
)

const binarySniffLen = 8192

// FileDiff represents the diff for a single file.
type FileDiff struct {
	Path         string `json:"path"`
	Type         string `json:"type"` // "modified", "added", "deleted"
	Diff         string `json:"diff,omitempty"`
	IsBinary     bool   `json:"is_binary,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesDeleted int    `json:"lines_deleted"`
}

// CompareResult contains the complete comparison between two versions.
type CompareResult struct {
	Files        []FileDiff `json:"files"`
	TotalAdded   int        `json:"total_added"`
	TotalDeleted int        `json:"total_deleted"`
	FilesChanged int        `json:"files_changed"`
	FilesAdded   int        `json:"files_added"`
	FilesDeleted int        `json:"files_deleted"`
}

// Compare diffs two package archives. Packaging parts such as
// [Content_Types].xml and _rels/ are ignored.
func Compare(oldReader, newReader archive.Reader) (*CompareResult, error) {
	oldFiles, err := contentFiles(oldReader)
	if err != nil {
		return nil, fmt.Errorf("listing old archive: %w", err)
	}
	newFiles, err := contentFiles(newReader)
	if err != nil {
		return nil, fmt.Errorf("listing new archive: %w", err)
	}

	paths := make([]string, 0, len(oldFiles)+len(newFiles))
	for p := range oldFiles {
		paths = append(paths, p)
	}
	for p := range newFiles {
		if !oldFiles[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	result := &CompareResult{Files: []FileDiff{}}

	for _, path := range paths {
		inOld, inNew := oldFiles[path], newFiles[path]

		var fd FileDiff
		switch {
		case inOld && !inNew:
			fd = FileDiff{Path: path, Type: "deleted"}
			result.FilesDeleted++
			if content, err := archive.ReadFile(oldReader, path); err == nil {
				if isBinary(content) {
					fd.IsBinary = true
				} else {
					fd.Diff, _, fd.LinesDeleted = unified(path, content, nil)
					result.TotalDeleted += fd.LinesDeleted
				}
			}

		case !inOld && inNew:
			fd = FileDiff{Path: path, Type: "added"}
			result.FilesAdded++
			if content, err := archive.ReadFile(newReader, path); err == nil {
				if isBinary(content) {
					fd.IsBinary = true
				} else {
					fd.Diff, fd.LinesAdded, _ = unified(path, nil, content)
					result.TotalAdded += fd.LinesAdded
				}
			}

		default:
			oldContent, err1 := archive.ReadFile(oldReader, path)
			newContent, err2 := archive.ReadFile(newReader, path)
			if err1 != nil || err2 != nil {
				continue
			}
			if bytes.Equal(oldContent, newContent) {
				continue
			}

			fd = FileDiff{Path: path, Type: "modified"}
			result.FilesChanged++
			if isBinary(oldContent) || isBinary(newContent) {
				fd.IsBinary = true
			} else {
				fd.Diff, fd.LinesAdded, fd.LinesDeleted = unified(path, oldContent, newContent)
				result.TotalAdded += fd.LinesAdded
				result.TotalDeleted += fd.LinesDeleted
			}
		}

		result.Files = append(result.Files, fd)
	}

	return result, nil
}

func contentFiles(r archive.Reader) (map[string]bool, error) {
	files, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(files))
	for _, f := range files {
		if f.IsDir || archive.IsPackagingPart(f.Path) {
			continue
		}
		out[f.Path] = true
	}
	return out, nil
}

// isBinary reports whether the first 8KB of content contain a NUL byte.
func isBinary(content []byte) bool {
	n := min(len(content), binarySniffLen)
	return bytes.IndexByte(content[:n], 0) >= 0
}

// unified renders a unified diff of two text files and counts changed lines.
func unified(path string, oldContent, newContent []byte) (string, int, int) {
	from, to := "a/"+path, "b/"+path
	if oldContent == nil {
		from = "/dev/null"
	}
	if newContent == nil {
		to = "/dev/null"
	}

	a, b := string(oldContent), string(newContent)
	edits := myers.ComputeEdits(span.URIFromPath(path), a, b)
	if len(edits) == 0 {
		return "", 0, 0
	}
	u := gotextdiff.ToUnified(from, to, a, edits)

	added, deleted := 0, 0
	for _, h := range u.Hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case gotextdiff.Insert:
				added++
			case gotextdiff.Delete:
				deleted++
			}
		}
	}
	return fmt.Sprint(u), added, deleted
}
