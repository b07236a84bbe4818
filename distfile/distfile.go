package distfile

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/khdc-me/twine/gpg"
)

// Type identifies how a distribution archive was built.
type Type string

// The distribution formats a package index accepts.
const (
	TypeSDist   Type = "sdist"
	TypeWheel   Type = "bdist_wheel"
	TypeEgg     Type = "bdist_egg"
	TypeWinInst Type = "bdist_wininst"
)

var distExtensions = []struct {
	suffix string
	typ    Type
}{
	{".whl", TypeWheel},
	{".egg", TypeEgg},
	{".exe", TypeWinInst},
	{".tar.gz", TypeSDist},
	{".tar.bz2", TypeSDist},
	{".zip", TypeSDist},
}

var safeNamePattern = regexp.MustCompile(`[^A-Za-z0-9.]+`)

// DistFile is a single built distribution ready for upload.
type DistFile struct {
	Path         string
	BaseFilename string
	Type         Type
	PyVersion    string
	Comment      string
	Metadata     Metadata
	Size         int64

	MD5Digest    string
	SHA256Digest string
	Blake2Digest string

	signatureName    string
	signatureContent []byte
}

// FromFilename reads the artifact at path and builds its upload
// representation: format classification, embedded core metadata and the
// digests the index verifies on receipt.
func FromFilename(path string, comment string) (*DistFile, error) {
	base := filepath.Base(path)
	typ, ok := typeOf(base)
	if !ok {
		return nil, fmt.Errorf("unknown distribution format: %s", base)
	}

	meta, err := readMetadata(path, typ)
	if err != nil {
		return nil, fmt.Errorf("read metadata of %s: %w", base, err)
	}

	d := &DistFile{
		Path:         path,
		BaseFilename: base,
		Type:         typ,
		PyVersion:    pyVersion(base, typ),
		Comment:      comment,
		Metadata:     meta,
	}
	if err := d.digest(); err != nil {
		return nil, err
	}

	return d, nil
}

func typeOf(base string) (Type, bool) {
	for _, ext := range distExtensions {
		if strings.HasSuffix(base, ext.suffix) {
			return ext.typ, true
		}
	}
	return "", false
}

func pyVersion(base string, typ Type) string {
	switch typ {
	case TypeWheel:
		if _, _, tag, ok := parseWheelFilename(base); ok {
			return tag
		}
		return "any"
	case TypeSDist:
		return "source"
	default:
		return "any"
	}
}

func (d *DistFile) digest() error {
	f, err := os.Open(d.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.Path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	md5Hash := md5.New()
	sha256Hash := sha256.New()
	blakeHash, err := blake2b.New256(nil)
	if err != nil {
		return fmt.Errorf("create blake2b hash: %w", err)
	}

	size, err := io.Copy(io.MultiWriter(md5Hash, sha256Hash, blakeHash), f)
	if err != nil {
		return fmt.Errorf("digest %s: %w", d.Path, err)
	}

	d.Size = size
	d.MD5Digest = hex.EncodeToString(md5Hash.Sum(nil))
	d.SHA256Digest = hex.EncodeToString(sha256Hash.Sum(nil))
	d.Blake2Digest = hex.EncodeToString(blakeHash.Sum(nil))
	return nil
}

// SignedFilename is the path of the detached signature next to the artifact.
func (d *DistFile) SignedFilename() string {
	return d.Path + ".asc"
}

// SignedBaseFilename ...
func (d *DistFile) SignedBaseFilename() string {
	return d.BaseFilename + ".asc"
}

// SafeName is the index-safe form of the package name, with runs of
// characters outside [A-Za-z0-9.] collapsed to a single dash.
func (d *DistFile) SafeName() string {
	return safeNamePattern.ReplaceAllString(d.Metadata.Name, "-")
}

// AddGPGSignature attaches an existing detached signature file.
// A distribution can carry at most one signature.
func (d *DistFile) AddGPGSignature(signaturePath string, signatureName string) error {
	if d.signatureName != "" {
		return fmt.Errorf("%s already has a GPG signature attached", d.BaseFilename)
	}

	content, err := os.ReadFile(signaturePath)
	if err != nil {
		return fmt.Errorf("read signature %s: %w", signaturePath, err)
	}

	d.signatureName = signatureName
	d.signatureContent = content
	return nil
}

// Sign generates a detached signature for the artifact and attaches it.
func (d *DistFile) Sign(signer gpg.Signer) error {
	if d.signatureName != "" {
		return fmt.Errorf("%s already has a GPG signature attached", d.BaseFilename)
	}

	sigPath, err := signer.Sign(d.Path)
	if err != nil {
		return fmt.Errorf("sign %s: %w", d.BaseFilename, err)
	}

	return d.AddGPGSignature(sigPath, filepath.Base(sigPath))
}

// GPGSignature returns the attached signature, if any.
func (d *DistFile) GPGSignature() (name string, content []byte, ok bool) {
	return d.signatureName, d.signatureContent, d.signatureName != ""
}

// MetadataFields returns the upload form fields in submission order.
// Multi-value fields appear once per value.
func (d *DistFile) MetadataFields() [][2]string {
	m := d.Metadata
	fields := [][2]string{
		{"name", m.Name},
		{"version", m.Version},
		{"filetype", string(d.Type)},
		{"pyversion", d.PyVersion},
		{"metadata_version", m.MetadataVersion},
		{"summary", m.Summary},
		{"home_page", m.HomePage},
		{"author", m.Author},
		{"author_email", m.AuthorEmail},
		{"license", m.License},
		{"keywords", m.Keywords},
		{"description", m.Description},
		{"description_content_type", m.DescriptionContentType},
		{"requires_python", m.RequiresPython},
		{"comment", d.Comment},
		{"md5_digest", d.MD5Digest},
		{"sha256_digest", d.SHA256Digest},
		{"blake2_256_digest", d.Blake2Digest},
	}
	for _, classifier := range m.Classifiers {
		fields = append(fields, [2]string{"classifiers", classifier})
	}
	for _, requirement := range m.RequiresDist {
		fields = append(fields, [2]string{"requires_dist", requirement})
	}
	return fields
}
