// Package browse lists candidate source videos in a directory with their
// probed metadata.
package browse

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/rifelab/internal/ffmpeg"
)

// Entry is one video file.
type Entry struct {
	Name    string            `json:"name"`
	Path    string            `json:"path"`
	Size    int64             `json:"size"`
	ModTime time.Time         `json:"mod_time"`
	Info    *ffmpeg.VideoInfo `json:"info,omitempty"`

	// ProbeError is set when the file could not be probed
	ProbeError string `json:"probe_error,omitempty"`
}

// Result contains the videos found under a directory.
type Result struct {
	Dir           string   `json:"dir"`
	Entries       []*Entry `json:"entries"`
	TotalSize     int64    `json:"total_size"`
	TotalDuration float64  `json:"total_duration"` // seconds, probed files only
}

type cached struct {
	modTime time.Time
	size    int64
	info    *ffmpeg.VideoInfo
}

// Browser probes video files, caching results until a file changes.
type Browser struct {
	info    ffmpeg.InfoReader
	workers int

	cacheMu sync.RWMutex
	cache   map[string]cached
}

// NewBrowser creates a Browser probing at most workers files at once.
func NewBrowser(info ffmpeg.InfoReader, workers int) *Browser {
	if workers < 1 {
		workers = 1
	}
	return &Browser{
		info:    info,
		workers: workers,
		cache:   make(map[string]cached),
	}
}

// Browse lists the video files in dir, descending into subdirectories when
// recursive is set. Hidden files and directories are skipped. Entries are
// sorted by path.
func (b *Browser) Browse(ctx context.Context, dir string, recursive bool) (*Result, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		root = filepath.Clean(dir)
	}

	var entries []*Entry
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip unreadable subtrees
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !ffmpeg.IsVideoFile(d.Name()) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, &Entry{
			Name:    d.Name(),
			Path:    path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, e := range entries {
		g.Go(func() error {
			info, err := b.probe(gctx, e)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.ProbeError = err.Error()
				return nil
			}
			e.Info = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	result := &Result{Dir: root, Entries: entries}
	for _, e := range entries {
		result.TotalSize += e.Size
		if e.Info != nil {
			result.TotalDuration += e.Info.Duration()
		}
	}
	return result, nil
}

// probe returns cached info while the file's size and mtime are unchanged.
func (b *Browser) probe(ctx context.Context, e *Entry) (*ffmpeg.VideoInfo, error) {
	b.cacheMu.RLock()
	c, ok := b.cache[e.Path]
	b.cacheMu.RUnlock()
	if ok && c.modTime.Equal(e.ModTime) && c.size == e.Size {
		return c.info, nil
	}

	info, err := b.info.Info(ctx, e.Path)
	if err != nil {
		return nil, err
	}

	b.cacheMu.Lock()
	b.cache[e.Path] = cached{modTime: e.ModTime, size: e.Size, info: info}
	b.cacheMu.Unlock()
	return info, nil
}

// InvalidateCache drops the cached probe result for path.
func (b *Browser) InvalidateCache(path string) {
	b.cacheMu.Lock()
	delete(b.cache, path)
	b.cacheMu.Unlock()
}
