package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

// collectImagePaths expands files, directories and glob patterns into image
// paths. Directory and glob matches are sorted; argument order is kept and
// duplicates are dropped. Files with unsupported extensions are skipped.
func collectImagePaths(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if !isImage(p) {
			return
		}
		clean := filepath.Clean(p)
		if seen[clean] {
			return
		}
		seen[clean] = true
		paths = append(paths, clean)
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.Type().IsRegular() {
					names = append(names, e.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				add(filepath.Join(arg, name))
			}
		case err == nil:
			add(arg)
		default:
			matches, gerr := filepath.Glob(arg)
			if gerr != nil {
				return nil, gerr
			}
			sort.Strings(matches)
			for _, m := range matches {
				if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
					add(m)
				}
			}
		}
	}
	return paths, nil
}

func isImage(path string) bool {
	return processor.IsSupportedFormat(filepath.Ext(path))
}
