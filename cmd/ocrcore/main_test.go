package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tesseract-ocr/tesseract-sub021/internal/boxfile"
	"github.com/tesseract-ocr/tesseract-sub021/internal/processor"
	"github.com/tesseract-ocr/tesseract-sub021/internal/recognizer"
)

func TestQueueSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "page.json")
	if err := os.WriteFile(file, []byte(`{"id":"p"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name   string
		inline bool
		arg    string
		check  func(processor.Source) bool
	}{
		{name: "url", arg: "https://example.com/p.json", check: func(s processor.Source) bool { return s.URL == "https://example.com/p.json" }},
		{name: "path", arg: file, check: func(s processor.Source) bool { return s.Path == file && s.Buffer == nil }},
		{name: "inline", inline: true, arg: file, check: func(s processor.Source) bool { return string(s.Buffer) == `{"id":"p"}` }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := &queueOptions{inline: tc.inline}
			src, err := q.source(tc.arg)
			if err != nil {
				t.Fatal(err)
			}
			if !tc.check(src) {
				t.Errorf("source = %+v", src)
			}
		})
	}

	if _, err := (&queueOptions{inline: true}).source(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected an error for a missing inline file")
	}
}

func TestSummaries(t *testing.T) {
	var buf bytes.Buffer
	printRecognizeSummary(&buf, &processor.ProcessResult{
		PageID: "p1",
		Result: &recognizer.Result{Words: 5, Cancelled: true, CancelledIn: "pass2", Placeholders: 2},
	})
	if out := buf.String(); !strings.Contains(out, "words 5") || !strings.Contains(out, "cancelled in pass2") {
		t.Errorf("recognize summary = %q", out)
	}

	buf.Reset()
	printResegmentSummary(&buf, &processor.TrainingResult{
		PageID:  "p1",
		Samples: 3,
		Summary: &boxfile.Summary{BoxesRead: 4, BoxesApplied: 3, FatalClasses: []string{"q"}},
	})
	if out := buf.String(); !strings.Contains(out, "applied 3") || !strings.Contains(out, "rebalance: q") {
		t.Errorf("resegment summary = %q", out)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"recognize"},
		{"resegment"},
		{"submit", "recognize"},
		{"submit", "resegment"},
		{"dict", "load"},
		{"dict", "dump"},
		{"job", "status"},
		{"job", "classes"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
