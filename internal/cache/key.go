package cache

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EntryName derives a cache entry name from a path relative to the project
// root: separators become "__" and the extension is dropped, so
// "models/sushi/orders.sql" maps to "models__sushi__orders".
func EntryName(relPath string) string {
	p := filepath.ToSlash(filepath.Clean(relPath))
	p = strings.TrimSuffix(p, path.Ext(p))
	return strings.ReplaceAll(p, "/", "__")
}

// InvalidationKey is everything that can change how a definition parses.
type InvalidationKey struct {
	FileMtime          time.Time
	MacroMtime         time.Time
	ProjectConfigMtime time.Time
	GlobalConfigMtime  time.Time
	// ConfigFingerprint is a digest of the resolved configuration
	ConfigFingerprint string
	DefaultCatalog    string
}

// String joins the key components with "__".
func (k InvalidationKey) String() string {
	return strings.Join([]string{
		mtimeString(k.FileMtime),
		mtimeString(k.MacroMtime),
		mtimeString(k.ProjectConfigMtime),
		mtimeString(k.GlobalConfigMtime),
		k.ConfigFingerprint,
		k.DefaultCatalog,
	}, "__")
}

func mtimeString(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

// MaxMtime returns the latest modification time among paths. Paths that do
// not exist are ignored; the zero time is returned when none exist.
func MaxMtime(paths ...string) time.Time {
	var latest time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}
