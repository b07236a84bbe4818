package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// findDistributions expands the given paths and patterns into the list of
// files to upload. A path that exists on disk is taken verbatim, anything
// else is treated as a glob pattern. A pattern with no matches is an error,
// caught before any network activity.
func (u *uploader) findDistributions(dists []string) ([]string, error) {
	var uploads []string
	for _, filename := range dists {
		exists, err := u.pathChecker.IsPathExists(filename)
		if err != nil {
			return nil, fmt.Errorf("check path %s: %w", filename, err)
		}
		if exists {
			uploads = append(uploads, filename)
			continue
		}

		matches, err := u.expandPattern(filename)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("Cannot find file (or expand pattern): '%s'", filename)
		}
		uploads = append(uploads, matches...)
	}

	return groupWheelFilesFirst(uploads), nil
}

func (u *uploader) expandPattern(pattern string) ([]string, error) {
	base, pat := doublestar.SplitPattern(pattern)
	absBase, err := u.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
	if err != nil {
		return nil, fmt.Errorf("resolve base of pattern %s: %w", pattern, err)
	}

	matches, err := doublestar.Glob(os.DirFS(absBase), pat, doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("expand pattern %s: %w", pattern, err)
	}

	expanded := make([]string, 0, len(matches))
	for _, match := range matches {
		expanded = append(expanded, filepath.Join(base, match))
	}
	return expanded, nil
}

// groupWheelFilesFirst moves wheel files to the front as a block, keeping
// the relative order within both groups. Indexes prefer the metadata of the
// first file of a release, and wheels carry the richer metadata.
func groupWheelFilesFirst(files []string) []string {
	hasWheel := false
	for _, file := range files {
		if strings.HasSuffix(file, ".whl") {
			hasWheel = true
			break
		}
	}
	if !hasWheel {
		return files
	}

	wheels := make([]string, 0, len(files))
	var others []string
	for _, file := range files {
		if strings.HasSuffix(file, ".whl") {
			wheels = append(wheels, file)
		} else {
			others = append(others, file)
		}
	}
	return append(wheels, others...)
}
