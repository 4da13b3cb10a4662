/**
 * Request and result types for the page processor
 *
 * Payloads arrive as JSON from the queue, so every field carries a tag.
 */

package processor

import (
	"github.com/tesseract-ocr/tesseract-sub021/internal/boxfile"
	"github.com/tesseract-ocr/tesseract-sub021/internal/page"
	"github.com/tesseract-ocr/tesseract-sub021/internal/recognizer"
)

// Source is where an input comes from: inline bytes, an http(s) URL or a
// local path, tried in that order.
type Source struct {
	Buffer []byte `json:"buffer,omitempty"`
	URL    string `json:"url,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Empty reports whether no source is set
func (s Source) Empty() bool {
	return len(s.Buffer) == 0 && s.URL == "" && s.Path == ""
}

// ProcessRequest is a recognition job
type ProcessRequest struct {
	JobID string `json:"jobId"`
	// PageID overrides the id in the page file.
	PageID string `json:"pageId,omitempty"`
	// Page is the segmented page in JSON form.
	Page Source `json:"page"`
	// Image is the page image the segmentation was made from.
	Image Source `json:"image"`
	// Languages overrides the configured languages, primary first.
	Languages []string               `json:"languages,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ProcessResult is the outcome of a recognition job
type ProcessResult struct {
	PageID           string
	RunID            int64
	Result           *recognizer.Result
	Page             *page.Page
	Text             string
	ProcessingTimeMs int64
}

// TrainingRequest is a box-file resegmentation job
type TrainingRequest struct {
	JobID  string `json:"jobId"`
	PageID string `json:"pageId,omitempty"`
	Page   Source `json:"page"`
	Boxes  Source `json:"boxes"`
	// BoxPage selects one page of a multi-page box file; -1 takes all.
	BoxPage  int    `json:"boxPage"`
	Language string `json:"language,omitempty"`
	// Targets is the wanted sample count per label.
	Targets  map[string]int         `json:"targets,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TrainingResult is the outcome of a resegmentation job
type TrainingResult struct {
	PageID           string
	Summary          *boxfile.Summary
	Page             *page.Page
	Samples          int
	PointIDs         []string
	ProcessingTimeMs int64
}
