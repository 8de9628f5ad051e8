// Package worker resolves the image processor executable for the current
// installation layout and CPU architecture.
package worker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

var (
	ErrWorkerMissing   = errors.New("image processor not found: reinstall the application")
	ErrTemplateMissing = errors.New("alignment template not found: reinstall the application")
	ErrUnknownLayout   = errors.New("unknown layout")
)

const (
	sourceScript   = "run_processor.py"
	templateName   = "template.json"
	processorName  = "processor"
	processorDir   = "processor"
	resourcesDir   = "resources"
	variantDirBase = "processor-"
)

// Layout says where the application runs from.
type Layout int

const (
	// LayoutSource is a development checkout, the processor is a python script.
	LayoutSource Layout = iota
	// LayoutPackaged is an installed application with compiled processors.
	LayoutPackaged
)

func (l Layout) String() string {
	switch l {
	case LayoutSource:
		return model.LayoutSource
	case LayoutPackaged:
		return model.LayoutPackaged
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// Invocation is everything needed to start the processor.
type Invocation struct {
	Path         string   // executable or interpreter
	Args         []string // arguments preceding the job file
	Dir          string   // working directory, the processor's own directory
	TemplatePath string
	Arch         string // architecture of the selected variant, empty for scripts
}

// Argv returns the arguments with jobFile as the processor's only positional argument.
func (i Invocation) Argv(jobFile string) []string {
	return append(slices.Clone(i.Args), jobFile)
}

// Locator resolves an Invocation. Zero values of Arch and Interpreter mean
// runtime.GOARCH and python3.
type Locator struct {
	Layout      Layout
	Root        string // checkout root (source) or resources dir (packaged)
	Arch        string
	Interpreter string
	stat        func(string) (fs.FileInfo, error)
}

// NewLocator builds a locator from the worker settings. Layout "auto" picks
// packaged layout when a processor-<arch> directory exists next to the
// running binary, source layout otherwise.
func NewLocator(ws model.WorkerSettings) (Locator, error) {
	l := Locator{
		Arch:        runtime.GOARCH,
		Interpreter: ws.Interpreter,
		stat:        os.Stat,
	}

	switch ws.Layout {
	case model.LayoutSource:
		l.Layout = LayoutSource
	case model.LayoutPackaged:
		l.Layout = LayoutPackaged
	case model.LayoutAuto, "":
		l.Layout = detectLayout(ws.Resources)
	default:
		return Locator{}, fmt.Errorf("%w: %q", ErrUnknownLayout, ws.Layout)
	}

	switch l.Layout {
	case LayoutSource:
		l.Root = ws.SourceRoot
		if l.Root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return Locator{}, fmt.Errorf("getting working directory: %w", err)
			}
			l.Root = cwd
		}
	case LayoutPackaged:
		l.Root = ws.Resources
		if l.Root == "" {
			l.Root = defaultResources()
		}
	}

	// the processor runs in its own directory, relative paths would not survive it
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return Locator{}, fmt.Errorf("resolving %s: %w", l.Root, err)
	}
	l.Root = root
	return l, nil
}

// WithStat replaces the file system probe, used by tests.
func (l Locator) WithStat(stat func(string) (fs.FileInfo, error)) Locator {
	l.stat = stat
	return l
}

// Resolve returns the processor invocation. In packaged layout the host
// native variant is preferred, the other architecture is a fallback, and
// both the executable and the template must exist.
func (l Locator) Resolve() (Invocation, error) {
	switch l.Layout {
	case LayoutSource:
		script := filepath.Join(l.Root, processorDir, sourceScript)
		interpreter := l.Interpreter
		if interpreter == "" {
			interpreter = model.DefaultInterpreter
		}
		return Invocation{
			Path:         interpreter,
			Args:         []string{script},
			Dir:          filepath.Dir(script),
			TemplatePath: filepath.Join(l.Root, resourcesDir, templateName),
		}, nil
	case LayoutPackaged:
		return l.resolvePackaged()
	default:
		return Invocation{}, fmt.Errorf("%w: %s", ErrUnknownLayout, l.Layout)
	}
}

func (l Locator) resolvePackaged() (Invocation, error) {
	host := l.arch()
	var exe, arch string
	var tried []string
	for _, candidate := range []string{host, OtherArch(host)} {
		path := VariantPath(l.Root, candidate)
		tried = append(tried, path)
		if l.isFile(path) {
			exe, arch = path, candidate
			break
		}
	}
	if exe == "" {
		return Invocation{}, fmt.Errorf("%w (looked for %v)", ErrWorkerMissing, tried)
	}

	template := filepath.Join(l.Root, resourcesDir, templateName)
	if !l.isFile(template) {
		return Invocation{}, fmt.Errorf("%w (looked for %s)", ErrTemplateMissing, template)
	}

	return Invocation{
		Path:         exe,
		Dir:          filepath.Dir(exe),
		TemplatePath: template,
		Arch:         arch,
	}, nil
}

// VariantPath is the location of the processor built for arch inside resources.
func VariantPath(resources, arch string) string {
	name := processorName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(resources, variantDirBase+arch, name)
}

// OtherArch returns the second architecture the application is packaged for.
func OtherArch(arch string) string {
	if arch == model.ArchARM64 {
		return model.ArchAMD64
	}
	return model.ArchARM64
}

func (l Locator) arch() string {
	if l.Arch == "" {
		return runtime.GOARCH
	}
	return l.Arch
}

func (l Locator) isFile(path string) bool {
	stat := l.stat
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(path)
	return err == nil && info.Mode().IsRegular()
}

func detectLayout(resources string) Layout {
	if resources == "" {
		resources = defaultResources()
	}
	for _, arch := range []string{model.ArchARM64, model.ArchAMD64} {
		if info, err := os.Stat(filepath.Dir(VariantPath(resources, arch))); err == nil && info.IsDir() {
			return LayoutPackaged
		}
	}
	return LayoutSource
}

// defaultResources is the directory of the running binary, or its
// ../Resources sibling inside a macOS application bundle.
func defaultResources() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)
	bundle := filepath.Join(dir, "..", "Resources")
	if info, err := os.Stat(bundle); err == nil && info.IsDir() {
		return filepath.Clean(bundle)
	}
	return dir
}
