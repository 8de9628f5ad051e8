// Package intake finds the photos of a batch on disk.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Extensions accepted as photos, matched case-insensitively.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

var contentTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// ErrNotImage is reported for files with a photo extension and other content.
var ErrNotImage = errors.New("not an image")

// Photo is an image file found by Scan.
type Photo struct {
	Path        string
	ContentType string
}

type candidate struct {
	root *os.Root
	path string
}

// Candidates walks root and yields every regular file with one of the
// Extensions, paths relative to root. It does not follow symlinks.
func Candidates(ctx context.Context, root *os.Root) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		fn := func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if !yield(path, err) {
					return fs.SkipAll
				}
				return nil
			}
			if d.IsDir() && path != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			if !d.Type().IsRegular() || !slices.Contains(Extensions, strings.ToLower(filepath.Ext(path))) {
				return nil
			}
			if !yield(path, nil) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root.FS(), ".", fn)
	}
}

// Scan finds the photos under dirs, checking the content of at most limit
// files at once. Unreadable files and files that are not images are
// logged and skipped. The result is sorted by path, without duplicates.
func Scan(ctx context.Context, limit int, dirs ...string) ([]Photo, error) {
	roots := make([]*os.Root, 0, len(dirs))
	defer func() {
		for _, r := range roots {
			_ = r.Close()
		}
	}()
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		root, err := os.OpenRoot(abs)
		if err != nil {
			return nil, fmt.Errorf("opening photo directory: %w", err)
		}
		roots = append(roots, root)
	}

	var (
		mx     sync.Mutex
		photos []Photo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for _, root := range roots {
		for path, err := range Candidates(gctx, root) {
			if err != nil {
				slog.DebugContext(ctx, "error on photo scan", "path", filepath.Join(root.Name(), path), "error", err)
				continue
			}
			c := candidate{root: root, path: path}
			g.Go(func() error {
				photo, err := sniff(c)
				if err != nil {
					slog.WarnContext(ctx, "skipping file", "path", photo.Path, "error", err)
					return nil
				}
				mx.Lock()
				photos = append(photos, photo)
				mx.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(photos, func(a, b Photo) int { return strings.Compare(a.Path, b.Path) })
	return slices.CompactFunc(photos, func(a, b Photo) bool { return a.Path == b.Path }), nil
}

func sniff(c candidate) (Photo, error) {
	photo := Photo{Path: filepath.Join(c.root.Name(), c.path)}
	f, err := c.root.Open(c.path)
	if err != nil {
		return photo, err
	}
	defer func() {
		_ = f.Close()
	}()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return photo, err
	}
	photo.ContentType = http.DetectContentType(head[:n])
	if !slices.Contains(contentTypes, photo.ContentType) {
		return photo, fmt.Errorf("%w: %s", ErrNotImage, photo.ContentType)
	}
	return photo, nil
}
