// Package project tracks working-directory state so the cache can invalidate
// results when the project materially changes.
package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// keyFiles are the manifest and build files whose change is always material.
var keyFiles = []string{
	"go.mod", "go.sum", "package.json", "package-lock.json", "yarn.lock",
	"requirements.txt", "pyproject.toml", "Cargo.toml", "Cargo.lock",
	"pom.xml", "build.gradle", "Makefile", "Dockerfile", "docker-compose.yml",
}

// fileStat is the tracked state of one key file.
type fileStat struct {
	MTimeNanos int64 `json:"mtime_nanos"`
	Size       int64 `json:"size"`
}

// State is a snapshot of the material project state for one workdir.
type State struct {
	KeyFiles     map[string]fileStat `json:"key_files"`
	Dependencies string              `json:"dependencies"` // canonical JSON of the dependency map
	HeadCommit   string              `json:"head_commit"`
}

// Tracker maintains one state record per workdir. Writes for the same
// workdir are serialized; different workdirs are independent.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*State)}
}

// Snapshot scans the workdir and returns its current material state.
func Snapshot(workdir string) *State {
	st := &State{KeyFiles: make(map[string]fileStat)}
	for _, name := range keyFiles {
		info, err := os.Stat(filepath.Join(workdir, name))
		if err != nil {
			continue
		}
		st.KeyFiles[name] = fileStat{MTimeNanos: info.ModTime().UnixNano(), Size: info.Size()}
	}
	st.Dependencies = dependencyFingerprint(workdir)
	st.HeadCommit = headCommit(workdir)
	return st
}

// Changed compares the current workdir state against the last recorded one
// and records the new state. The first observation of a workdir reports no
// change. Materiality: any key-file mtime change, key-file addition or
// removal, dependency map inequality, or head-commit inequality.
func (t *Tracker) Changed(workdir string) (bool, []string) {
	current := Snapshot(workdir)

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.states[workdir]
	t.states[workdir] = current
	if !seen {
		return false, nil
	}

	var reasons []string
	for name, stat := range current.KeyFiles {
		old, ok := prev.KeyFiles[name]
		switch {
		case !ok:
			reasons = append(reasons, "key file added: "+name)
		case old.MTimeNanos != stat.MTimeNanos || old.Size != stat.Size:
			reasons = append(reasons, "key file changed: "+name)
		}
	}
	for name := range prev.KeyFiles {
		if _, ok := current.KeyFiles[name]; !ok {
			reasons = append(reasons, "key file removed: "+name)
		}
	}
	if prev.Dependencies != current.Dependencies {
		reasons = append(reasons, "dependency set changed")
	}
	if prev.HeadCommit != current.HeadCommit {
		reasons = append(reasons, "head commit changed")
	}

	return len(reasons) > 0, reasons
}

// dependencyFingerprint canonicalizes the dependency map of the first
// manifest found. package.json dependencies are compared as sorted-key JSON;
// go.mod is compared by its require lines.
func dependencyFingerprint(workdir string) string {
	if data, err := os.ReadFile(filepath.Join(workdir, "package.json")); err == nil { // #nosec G304 - workdir comes from the request
		var manifest struct {
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if json.Unmarshal(data, &manifest) == nil {
			merged := make(map[string]string, len(manifest.Dependencies)+len(manifest.DevDependencies))
			for k, v := range manifest.Dependencies {
				merged[k] = v
			}
			for k, v := range manifest.DevDependencies {
				merged["dev:"+k] = v
			}
			// Marshal sorts map keys, giving a canonical comparison form.
			out, err := json.Marshal(merged)
			if err == nil {
				return string(out)
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join(workdir, "go.mod")); err == nil { // #nosec G304
		var requires []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "require") || strings.Contains(line, " v") {
				requires = append(requires, line)
			}
		}
		return strings.Join(requires, "\n")
	}

	return ""
}

// headCommit resolves .git/HEAD without shelling out to git.
func headCommit(workdir string) string {
	head, err := os.ReadFile(filepath.Join(workdir, ".git", "HEAD")) // #nosec G304
	if err != nil {
		return ""
	}
	ref := strings.TrimSpace(string(head))
	if !strings.HasPrefix(ref, "ref: ") {
		return ref // detached head: HEAD holds the hash directly
	}
	refPath := strings.TrimPrefix(ref, "ref: ")
	commit, err := os.ReadFile(filepath.Join(workdir, ".git", filepath.FromSlash(refPath))) // #nosec G304
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(commit))
}
