package cache

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Stats summarizes the cache contents.
type Stats struct {
	// Entries counts (recording, parameter) directories.
	Entries int
	// Artifacts counts entries holding an assembled artifact.
	Artifacts int
	// Windows counts cached window results.
	Windows    int
	TotalBytes int64
	// FreeBytes is the space available to unprivileged users on the cache
	// volume, or 0 when unknown.
	FreeBytes uint64
}

// Stats walks the cache directory.
func (c *FileCache) Stats() (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(c.dir, path)
		if d.IsDir() {
			if strings.Count(rel, string(filepath.Separator)) == 2 {
				stats.Entries++
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.TotalBytes += info.Size()
		name := d.Name()
		switch {
		case strings.HasPrefix(name, windowPrefix) && strings.HasSuffix(name, windowSuffix):
			stats.Windows++
		case name == artifactBase+".json":
			stats.Artifacts++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	stats.FreeBytes = freeBytes(c.dir)
	return stats, nil
}
