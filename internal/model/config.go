package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LayoutAuto     = "auto"
	LayoutSource   = "source"
	LayoutPackaged = "packaged"

	ArchARM64 = "arm64"
	ArchAMD64 = "amd64"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

const (
	DefaultInterpreter = "python3"
	DefaultPrimaryArch = ArchARM64
	DefaultTimeout     = 10 * time.Minute
	DefaultWaitDelay   = 2 * time.Second
	DefaultStderrLimit = 64 * 1024
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int      `json:"version" yaml:"version"` // fixed 0 for now
	Worker  *Worker  `json:"worker,omitempty" yaml:"worker,omitempty"`
	Export  *Export  `json:"export,omitempty" yaml:"export,omitempty"`
	Service *Service `json:"service,omitempty" yaml:"service,omitempty"`
}

// Worker locates and bounds the external image processor.
type Worker struct {
	Layout      *string `json:"layout,omitempty" yaml:"layout,omitempty"`           // "auto" | "source" | "packaged"
	SourceRoot  *string `json:"source_root,omitempty" yaml:"source_root,omitempty"` // checkout root in source layout
	Interpreter *string `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	Resources   *string `json:"resources,omitempty" yaml:"resources,omitempty"` // packaged resources dir
	PrimaryArch *string `json:"primary_arch,omitempty" yaml:"primary_arch,omitempty"`
	Timeout     *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	WaitDelay   *string `json:"wait_delay,omitempty" yaml:"wait_delay,omitempty"`
	StderrLimit *int    `json:"stderr_limit,omitempty" yaml:"stderr_limit,omitempty"`

	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"` // extra processor environment
}

type Export struct {
	Root *string `json:"root,omitempty" yaml:"root,omitempty"`
}

type Service struct {
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     *string `json:"log,omitempty" yaml:"log,omitempty"`         // "stderr"|"stdout"|"discard"|path
	History *string `json:"history,omitempty" yaml:"history,omitempty"` // sqlite database with past runs
	Metrics *string `json:"metrics,omitempty" yaml:"metrics,omitempty"` // prometheus textfile
	Notify  *string `json:"notify,omitempty" yaml:"notify,omitempty"`   // url receiving run reports
}

// WorkerSettings is the Worker section with every default applied.
type WorkerSettings struct {
	Layout      string
	SourceRoot  string
	Interpreter string
	Resources   string
	PrimaryArch string
	Timeout     time.Duration
	WaitDelay   time.Duration
	StderrLimit int
	Env         []string // KEY=value pairs added to the inherited environment
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// DefaultConfig is stored on the first start when no config file exists.
func DefaultConfig(ctx context.Context) Config {
	root := "GoodPhotographer"
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, "Downloads", "GoodPhotographer")
	} else {
		slog.WarnContext(ctx, "can't determine home directory, export root is relative", "error", err)
	}
	return Config{
		Version: 0,
		Worker: &Worker{
			Layout:  ptr(LayoutAuto),
			Timeout: ptr("10m"),
		},
		Export: &Export{
			Root: ptr(root),
		},
		Service: &Service{
			Verbose: ptr(false),
			Log:     ptr(LogStderr),
		},
	}
}

// WorkerSettings resolves the worker section, durations included.
func (c Config) WorkerSettings() (WorkerSettings, error) {
	var w Worker
	if c.Worker != nil {
		w = *c.Worker
	}
	ret := WorkerSettings{
		Layout:      or(get(w.Layout), LayoutAuto),
		SourceRoot:  get(w.SourceRoot),
		Interpreter: or(get(w.Interpreter), DefaultInterpreter),
		Resources:   get(w.Resources),
		PrimaryArch: or(get(w.PrimaryArch), DefaultPrimaryArch),
		Timeout:     DefaultTimeout,
		WaitDelay:   DefaultWaitDelay,
		StderrLimit: or(get(w.StderrLimit), DefaultStderrLimit),
		Env:         envList(w.Env),
	}
	if w.Timeout != nil {
		d, err := ParseTimeout(*w.Timeout)
		if err != nil {
			return WorkerSettings{}, fmt.Errorf("parsing worker.timeout: %w", err)
		}
		ret.Timeout = d
	}
	if w.WaitDelay != nil {
		d, err := ParseDuration(*w.WaitDelay)
		if err != nil {
			return WorkerSettings{}, fmt.Errorf("parsing worker.wait_delay: %w", err)
		}
		ret.WaitDelay = d
	}
	return ret, nil
}

// ExportRoot returns the directory under which timestamped export dirs are created.
func (c Config) ExportRoot() string {
	if c.Export != nil && c.Export.Root != nil {
		return *c.Export.Root
	}
	return get(DefaultConfig(context.Background()).Export.Root)
}

func (c Config) Verbose() bool {
	return c.Service != nil && get(c.Service.Verbose)
}

func (c Config) Log() string {
	if c.Service == nil {
		return LogStderr
	}
	return or(get(c.Service.Log), LogStderr)
}

func (c Config) HistoryPath() string {
	if c.Service == nil {
		return ""
	}
	return get(c.Service.History)
}

func (c Config) MetricsPath() string {
	if c.Service == nil {
		return ""
	}
	return get(c.Service.Metrics)
}

// envList turns the env section into sorted KEY=value pairs. Values
// starting with $ are expanded from the current environment.
func envList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, k+"="+v)
	}
	return env
}

func (c Config) NotifyURL() string {
	if c.Service == nil {
		return ""
	}
	return get(c.Service.Notify)
}

func ptr[T any](v T) *T {
	return &v
}

func get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}

func or[T comparable](v, dflt T) T {
	var zero T
	if v == zero {
		return dflt
	}
	return v
}
