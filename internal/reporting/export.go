package reporting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"covered-call-lab/internal/domain"
)

// Exporter writes run artifacts into a directory, one file set per run date.
// Rerunning a date overwrites its files.
type Exporter struct {
	dir string
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// ExportScreening writes candidates_<date>.csv and screening_<date>.md.
func (e *Exporter) ExportScreening(r *ScreeningReport) ([]string, error) {
	date := r.RunDate.Format(domain.DateLayout)

	var buf bytes.Buffer
	if err := WriteCandidatesCSV(&buf, r.Candidates); err != nil {
		return nil, fmt.Errorf("render candidates csv: %w", err)
	}
	return e.write(map[string][]byte{
		"candidates_" + date + ".csv": buf.Bytes(),
		"screening_" + date + ".md":   []byte(RenderScreeningMarkdown(r)),
	}, "candidates_"+date+".csv", "screening_"+date+".md")
}

// ExportLabeled writes labeled_<date>.csv.
func (e *Exporter) ExportLabeled(runDate time.Time, records []*domain.TradeRecord) (string, error) {
	name := "labeled_" + runDate.Format(domain.DateLayout) + ".csv"

	var buf bytes.Buffer
	if err := WriteLabeledCSV(&buf, records); err != nil {
		return "", fmt.Errorf("render labeled csv: %w", err)
	}
	paths, err := e.write(map[string][]byte{name: buf.Bytes()}, name)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// ExportLabelingSummary writes labeling_<date>.md.
func (e *Exporter) ExportLabelingSummary(r *LabelingReport) (string, error) {
	name := "labeling_" + r.RunDate.Format(domain.DateLayout) + ".md"
	paths, err := e.write(map[string][]byte{name: []byte(RenderLabelingMarkdown(r))}, name)
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

func (e *Exporter) write(files map[string][]byte, order ...string) ([]string, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(order))
	for _, name := range order {
		path := filepath.Join(e.dir, name)
		if err := os.WriteFile(path, files[name], 0644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
