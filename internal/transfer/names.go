package transfer

import (
	"fmt"
	"path"
	"strings"
)

// UniqueName returns name, or name with " (n)" inserted before the extension
// for the smallest n >= 1 that taken does not report. Slash-separated
// directories in name are kept as is.
func UniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}

	dir, base := path.Split(name)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%s (%d)%s", dir, stem, n, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// bundled reports whether artifacts have to go into an archive rather than
// be saved as a single file.
func bundled(artifacts []Artifact) bool {
	return len(artifacts) != 1 || artifacts[0].Descriptor.RelativePath != ""
}

// bundleName is "<folder>.zip" when every artifact sits under one top-level
// folder, otherwise a name derived from the batch id.
func bundleName(batch *Batch, artifacts []Artifact) string {
	top := ""
	for i, a := range artifacts {
		rel := a.Descriptor.RelativePath
		first, _, found := strings.Cut(rel, "/")
		if !found {
			top = ""
			break
		}
		if i == 0 {
			top = first
		} else if first != top {
			top = ""
			break
		}
	}
	if top != "" {
		return top + ".zip"
	}

	id := batch.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return "peer-drop.zip"
	}
	return "batch-" + id + ".zip"
}
