package distfile

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Metadata is the core metadata carried inside a distribution archive:
// the METADATA member of wheels and eggs, PKG-INFO of sdists.
type Metadata struct {
	MetadataVersion        string
	Name                   string
	Version                string
	Summary                string
	Description            string
	DescriptionContentType string
	HomePage               string
	Author                 string
	AuthorEmail            string
	License                string
	Keywords               string
	RequiresPython         string
	Classifiers            []string
	RequiresDist           []string
}

func readMetadata(artifactPath string, typ Type) (Metadata, error) {
	base := filepath.Base(artifactPath)

	var (
		meta  Metadata
		found bool
		err   error
	)
	switch {
	case typ == TypeWheel:
		meta, found, err = zipMetadata(artifactPath, isWheelMetadata)
	case typ == TypeEgg:
		meta, found, err = zipMetadata(artifactPath, isEggMetadata)
	case strings.HasSuffix(base, ".zip"):
		meta, found, err = zipMetadata(artifactPath, isPkgInfo)
	case strings.HasSuffix(base, ".tar.gz"), strings.HasSuffix(base, ".tar.bz2"):
		meta, found, err = tarMetadata(artifactPath)
	default:
		return metadataFromFilename(base, typ)
	}
	if err != nil {
		return Metadata{}, err
	}
	if !found {
		return metadataFromFilename(base, typ)
	}
	return meta, nil
}

func isWheelMetadata(member string) bool {
	dir, file := path.Split(member)
	return file == "METADATA" &&
		strings.HasSuffix(strings.TrimSuffix(dir, "/"), ".dist-info") &&
		strings.Count(member, "/") == 1
}

func isEggMetadata(member string) bool {
	return member == "EGG-INFO/PKG-INFO"
}

func isPkgInfo(member string) bool {
	return path.Base(member) == "PKG-INFO" && strings.Count(member, "/") <= 1
}

func zipMetadata(artifactPath string, isMetadataMember func(string) bool) (Metadata, bool, error) {
	r, err := zip.OpenReader(artifactPath)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	for _, member := range r.File {
		if !isMetadataMember(member.Name) {
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return Metadata{}, false, fmt.Errorf("open archive member %s: %w", member.Name, err)
		}
		meta, err := parseMetadata(rc)
		if closeErr := rc.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return Metadata{}, false, fmt.Errorf("parse archive member %s: %w", member.Name, err)
		}
		return meta, true, nil
	}

	return Metadata{}, false, nil
}

func tarMetadata(artifactPath string) (Metadata, bool, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var reader io.Reader
	if strings.HasSuffix(artifactPath, ".tar.bz2") {
		reader = bzip2.NewReader(f)
	} else {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Metadata{}, false, fmt.Errorf("create gzip reader: %w", err)
		}
		defer func() {
			_ = gz.Close()
		}()
		reader = gz
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, false, fmt.Errorf("read tar file: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !isPkgInfo(header.Name) {
			continue
		}

		meta, err := parseMetadata(tr)
		if err != nil {
			return Metadata{}, false, fmt.Errorf("parse archive member %s: %w", header.Name, err)
		}
		return meta, true, nil
	}

	return Metadata{}, false, nil
}

// parseMetadata reads RFC 822 style metadata headers. Anything after the
// blank line is the long description unless a Description header was set.
func parseMetadata(r io.Reader) (Metadata, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	header, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return Metadata{}, fmt.Errorf("read metadata headers: %w", err)
	}

	meta := Metadata{
		MetadataVersion:        header.Get("Metadata-Version"),
		Name:                   header.Get("Name"),
		Version:                header.Get("Version"),
		Summary:                header.Get("Summary"),
		Description:            header.Get("Description"),
		DescriptionContentType: header.Get("Description-Content-Type"),
		HomePage:               header.Get("Home-Page"),
		Author:                 header.Get("Author"),
		AuthorEmail:            header.Get("Author-Email"),
		License:                header.Get("License"),
		Keywords:               header.Get("Keywords"),
		RequiresPython:         header.Get("Requires-Python"),
		Classifiers:            header.Values("Classifier"),
		RequiresDist:           header.Values("Requires-Dist"),
	}

	body, err := io.ReadAll(tp.R)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata body: %w", err)
	}
	if description := strings.TrimSpace(string(body)); description != "" && meta.Description == "" {
		meta.Description = description
	}

	return meta, nil
}

var eggPyTagPattern = regexp.MustCompile(`-py\d(\.\d+)?$`)

func metadataFromFilename(base string, typ Type) (Metadata, error) {
	var (
		name    string
		version string
		ok      bool
	)
	switch typ {
	case TypeWheel:
		name, version, _, ok = parseWheelFilename(base)
	case TypeEgg:
		stem := eggPyTagPattern.ReplaceAllString(strings.TrimSuffix(base, ".egg"), "")
		name, version, ok = splitNameVersion(stem)
	case TypeWinInst:
		stem := strings.TrimSuffix(base, ".exe")
		if i := strings.Index(stem, ".win"); i > 0 {
			stem = stem[:i]
		}
		name, version, ok = splitNameVersion(stem)
	default:
		stem := base
		for _, ext := range []string{".tar.gz", ".tar.bz2", ".zip"} {
			if strings.HasSuffix(stem, ext) {
				stem = strings.TrimSuffix(stem, ext)
				break
			}
		}
		name, version, ok = splitNameVersion(stem)
	}
	if !ok {
		return Metadata{}, fmt.Errorf("cannot parse package name and version from %s", base)
	}

	return Metadata{Name: name, Version: version}, nil
}

// parseWheelFilename splits a {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl
// filename. Name and version never contain dashes in wheel filenames.
func parseWheelFilename(base string) (name, version, pyTag string, ok bool) {
	stem := strings.TrimSuffix(base, ".whl")
	parts := strings.Split(stem, "-")
	if len(parts) < 5 || len(parts) > 6 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[len(parts)-3], true
}

// splitNameVersion splits at the last dash, the conventional separator
// between a package name and its version.
func splitNameVersion(stem string) (name, version string, ok bool) {
	i := strings.LastIndex(stem, "-")
	if i < 1 || i == len(stem)-1 {
		return "", "", false
	}
	return stem[:i], stem[i+1:], true
}
