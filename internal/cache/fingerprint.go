package cache

import (
	"crypto/md5" // #nosec G501 - fingerprint for change detection, not security
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FingerprintUnknown is the sentinel used when the workdir cannot be scanned.
const FingerprintUnknown = "unknown"

// fingerprintExtensions is the whitelist of source and manifest extensions
// that participate in the project fingerprint.
var fingerprintExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".py": true, ".rs": true, ".java": true, ".rb": true, ".c": true,
	".h": true, ".cpp": true, ".cs": true, ".json": true, ".yaml": true,
	".yml": true, ".toml": true, ".mod": true, ".sum": true, ".sql": true,
}

// fingerprintSkipDirs are never descended into.
var fingerprintSkipDirs = map[string]bool{
	"node_modules": true, ".git": true, "coverage": true,
	"dist": true, "build": true,
}

// fingerprintMaxFiles caps the scan so giant repositories stay cheap.
const fingerprintMaxFiles = 50

// Fingerprint hashes the material files of a working directory into a
// compact change detector: MD5 over the sorted list of (relative path,
// mtime nanos, size). Returns FingerprintUnknown when scanning fails or the
// workdir is empty/unset.
func Fingerprint(workdir string) string {
	if workdir == "" || workdir == "current" {
		wd, err := os.Getwd()
		if err != nil {
			return FingerprintUnknown
		}
		workdir = wd
	}

	type fileRecord struct {
		path  string
		mtime int64
		size  int64
	}
	var records []fileRecord

	err := filepath.WalkDir(workdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if fingerprintSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(records) >= fingerprintMaxFiles {
			return filepath.SkipAll
		}
		if !fingerprintExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(workdir, path)
		if err != nil {
			rel = path
		}
		records = append(records, fileRecord{
			path:  filepath.ToSlash(rel),
			mtime: info.ModTime().UnixNano(),
			size:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return FingerprintUnknown
	}

	sort.Slice(records, func(i, j int) bool { return records[i].path < records[j].path })

	h := md5.New() // #nosec G401
	for _, r := range records {
		fmt.Fprintf(h, "%s:%d:%d\n", r.path, r.mtime, r.size)
	}
	return hex.EncodeToString(h.Sum(nil))
}
