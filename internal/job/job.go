// Package job builds the job file handed to the image processor.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

// FileName of the job file inside the export directory.
const FileName = "_config.json"

const exportDirLayout = "2006-01-02_150405"

var ErrNoPhotos = errors.New("no photos")

// Inputs is what the user submitted: photos, formats and where to export.
type Inputs struct {
	ExportDir string
	Photos    []model.PhotoItem
	Formats   []model.FormatID
}

// Validate checks the intake rules: every photo is complete and at least one
// format is selected.
func (in Inputs) Validate() error {
	var errs []error
	if len(in.Photos) == 0 {
		errs = append(errs, ErrNoPhotos)
	}
	for i, p := range in.Photos {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("photo #%d (%s): %w", i+1, p.Path, err))
		}
	}
	if len(in.Formats) == 0 {
		errs = append(errs, model.ErrNoFormat)
	}
	return errors.Join(errs...)
}

// Build returns the descriptor for in. Photo fields are trimmed, photo paths
// and the export directory are made absolute, as the processor runs in its
// own working directory.
func Build(templatePath string, in Inputs) model.JobDescriptor {
	photos := make([]model.PhotoItem, len(in.Photos))
	for i, p := range in.Photos {
		p = p.Trim()
		if p.Path != "" {
			p.Path = absolute(p.Path)
		}
		photos[i] = p
	}
	formats := slices.Clone(in.Formats)
	if formats == nil {
		formats = []model.FormatID{}
	}
	return model.JobDescriptor{
		TemplatePath: templatePath,
		ExportDir:    absolute(in.ExportDir),
		Photos:       photos,
		Formats:      formats,
	}
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Write stores d as <export_dir>/_config.json, replacing any previous
// content, and returns the absolute path of the file.
func Write(d model.JobDescriptor) (string, error) {
	root, err := os.OpenRoot(d.ExportDir)
	if err != nil {
		return "", fmt.Errorf("opening export directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	f, err := root.OpenFile(FileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating job file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("writing job file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("syncing job file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing job file: %w", err)
	}
	return filepath.Join(d.ExportDir, FileName), nil
}

// NewExportDir creates root/YYYY-MM-DD_HHMMSS and returns its path.
func NewExportDir(root string, now time.Time) (string, error) {
	dir := filepath.Join(root, now.Format(exportDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	return dir, nil
}
