package model

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// FormatID names one export format the processor knows how to produce.
type FormatID string

const (
	FormatWebsiteBio   FormatID = "website_bio"   // 1000x684 JPEG
	FormatSpinBio      FormatID = "spin_bio"      // 510x510 JPEG
	FormatNucleusRound FormatID = "nucleus_round" // 510x510 PNG, circular mask
)

var (
	ErrUnknownFormat    = errors.New("unknown format")
	ErrNoFormat         = errors.New("at least one format must be selected")
	ErrMissingPath      = errors.New("photo path is required")
	ErrMissingFirstName = errors.New("first name is required")
	ErrMissingLastName  = errors.New("last name is required")
	ErrInvalidYear      = errors.New("year must have four digits")
)

// Formats returns all supported formats in the order they are offered to the user.
func Formats() []FormatID {
	return []FormatID{FormatWebsiteBio, FormatSpinBio, FormatNucleusRound}
}

// ParseFormat accepts the wire form (website_bio) as well as website-bio.
func ParseFormat(s string) (FormatID, error) {
	f := FormatID(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !slices.Contains(Formats(), f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// PhotoItem is one source photo together with the person metadata used
// to name the exported files.
type PhotoItem struct {
	Path      string `json:"path" yaml:"path" mapstructure:"path"`
	FirstName string `json:"firstName" yaml:"firstName" mapstructure:"firstName"`
	LastName  string `json:"lastName" yaml:"lastName" mapstructure:"lastName"`
	Year      string `json:"year" yaml:"year" mapstructure:"year"`
}

var yearRx = regexp.MustCompile(`^\d{4}$`)

// Trim returns a copy with surrounding whitespace removed from every field.
func (p PhotoItem) Trim() PhotoItem {
	return PhotoItem{
		Path:      strings.TrimSpace(p.Path),
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Year:      strings.TrimSpace(p.Year),
	}
}

// Validate applies the intake rules. The orchestration core never calls it,
// an invalid item is passed to the processor as is.
func (p PhotoItem) Validate() error {
	t := p.Trim()
	var errs []error
	if t.Path == "" {
		errs = append(errs, ErrMissingPath)
	}
	if t.FirstName == "" {
		errs = append(errs, ErrMissingFirstName)
	}
	if t.LastName == "" {
		errs = append(errs, ErrMissingLastName)
	}
	if !yearRx.MatchString(t.Year) {
		errs = append(errs, ErrInvalidYear)
	}
	return errors.Join(errs...)
}

// JobDescriptor is the job file consumed by the processor. Field names are
// the on-disk contract and must not change.
type JobDescriptor struct {
	TemplatePath string      `json:"template_path"`
	ExportDir    string      `json:"export_dir"`
	Photos       []PhotoItem `json:"photos"`
	Formats      []FormatID  `json:"formats"`
}

// ProgressEvent is a cumulative snapshot of one run.
type ProgressEvent struct {
	Current int      `json:"current"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors"`
}

// Clone returns a snapshot which does not share the errors slice.
func (e ProgressEvent) Clone() ProgressEvent {
	e.Errors = slices.Clone(e.Errors)
	if e.Errors == nil {
		e.Errors = []string{}
	}
	return e
}

// RunResult is the terminal value of a run. Success reflects the exit status
// only, so it can be true while Errors is not empty.
type RunResult struct {
	Success   bool     `json:"success"`
	ExportDir string   `json:"exportDir"`
	Errors    []string `json:"errors"`
}

// State of a single processor run.
type State string

const (
	StateIdle      State = "idle"
	StateSpawning  State = "spawning"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}
