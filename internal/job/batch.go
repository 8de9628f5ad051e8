package job

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type batch struct {
	ExportDir string            `yaml:"export_dir,omitempty" mapstructure:"export_dir"`
	Formats   []string          `yaml:"formats" mapstructure:"formats"`
	Photos    []model.PhotoItem `yaml:"photos" mapstructure:"photos"`
}

// LoadBatch reads a batch manifest in any format viper understands
// (yaml, json, toml, ...). Relative paths are resolved against the
// directory of the manifest, so the result holds absolute paths. A missing
// formats list selects all formats.
func LoadBatch(path string) (Inputs, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Inputs{}, fmt.Errorf("reading batch %s: %w", path, err)
	}

	var b batch
	if err := v.Unmarshal(&b); err != nil {
		return Inputs{}, fmt.Errorf("parsing batch %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Inputs{}, fmt.Errorf("resolving batch %s: %w", path, err)
	}
	in := Inputs{
		ExportDir: resolve(base, b.ExportDir),
		Photos:    make([]model.PhotoItem, len(b.Photos)),
	}
	for i, p := range b.Photos {
		p.Path = resolve(base, p.Path)
		in.Photos[i] = p
	}

	if len(b.Formats) == 0 {
		in.Formats = model.Formats()
		return in, nil
	}
	for _, s := range b.Formats {
		f, err := model.ParseFormat(s)
		if err != nil {
			return Inputs{}, fmt.Errorf("parsing batch %s: %w", path, err)
		}
		in.Formats = append(in.Formats, f)
	}
	return in, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// WriteBatch writes in as a yaml batch manifest LoadBatch understands.
func WriteBatch(w io.Writer, in Inputs) error {
	b := batch{
		ExportDir: in.ExportDir,
		Formats:   make([]string, len(in.Formats)),
		Photos:    in.Photos,
	}
	for i, f := range in.Formats {
		b.Formats[i] = string(f)
	}
	if b.Photos == nil {
		b.Photos = []model.PhotoItem{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("writing batch: %w", err)
	}
	return enc.Close()
}
