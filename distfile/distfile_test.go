package distfile

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func writeZipArchive(t *testing.T, path string, members map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		member, err := w.Create(name)
		require.NoError(t, err)
		_, err = member.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
}

type stubSigner struct {
	err error

	signed []string
}

func (s *stubSigner) Sign(path string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.signed = append(s.signed, path)

	sigPath := path + ".asc"
	if err := os.WriteFile(sigPath, []byte("detached signature"), 0600); err != nil {
		return "", err
	}
	return sigPath, nil
}

func TestFromFilename_wheel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo-1.2.3-py3-none-any.whl")
	writeZipArchive(t, path, map[string]string{
		"demo-1.2.3.dist-info/METADATA": "Metadata-Version: 2.1\n" +
			"Name: demo\n" +
			"Version: 1.2.3\n" +
			"Summary: A demo package\n" +
			"Classifier: Programming Language :: Python :: 3\n" +
			"Classifier: License :: OSI Approved :: MIT License\n" +
			"Requires-Dist: requests (>=2.0)\n",
		"demo/__init__.py": "",
	})

	d, err := FromFilename(path, "built by ci")
	require.NoError(t, err)

	assert.Equal(t, path, d.Path)
	assert.Equal(t, "demo-1.2.3-py3-none-any.whl", d.BaseFilename)
	assert.Equal(t, TypeWheel, d.Type)
	assert.Equal(t, "py3", d.PyVersion)
	assert.Equal(t, "built by ci", d.Comment)
	assert.Equal(t, "demo", d.Metadata.Name)
	assert.Equal(t, "1.2.3", d.Metadata.Version)
	assert.Equal(t, "A demo package", d.Metadata.Summary)
	assert.Equal(t, []string{
		"Programming Language :: Python :: 3",
		"License :: OSI Approved :: MIT License",
	}, d.Metadata.Classifiers)
	assert.Equal(t, []string{"requests (>=2.0)"}, d.Metadata.RequiresDist)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), d.Size)
	assert.Equal(t, fmt.Sprintf("%x", md5.Sum(content)), d.MD5Digest)
	assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256(content)), d.SHA256Digest)
	assert.Equal(t, fmt.Sprintf("%x", blake2b.Sum256(content)), d.Blake2Digest)
}

func TestFromFilename_unknownFormat(t *testing.T) {
	_, err := FromFilename("/dist/demo-1.0.0.rpm", "")
	require.EqualError(t, err, "unknown distribution format: demo-1.0.0.rpm")
}

func TestFromFilename_missingFile(t *testing.T) {
	_, err := FromFilename(filepath.Join(t.TempDir(), "demo-1.0.0-py3-none-any.whl"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read metadata of demo-1.0.0-py3-none-any.whl")
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "demo", want: "demo"},
		{name: "my_package", want: "my-package"},
		{name: "My.Package", want: "My.Package"},
		{name: "my  strange__package", want: "my-strange-package"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DistFile{Metadata: Metadata{Name: tt.name}}
			if got := d.SafeName(); got != tt.want {
				t.Errorf("SafeName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddGPGSignature(t *testing.T) {
	dir := t.TempDir()
	sigPath := filepath.Join(dir, "demo-1.0.0.tar.gz.asc")
	require.NoError(t, os.WriteFile(sigPath, []byte("detached signature"), 0600))

	d := &DistFile{BaseFilename: "demo-1.0.0.tar.gz"}
	require.NoError(t, d.AddGPGSignature(sigPath, "demo-1.0.0.tar.gz.asc"))

	name, content, ok := d.GPGSignature()
	require.True(t, ok)
	assert.Equal(t, "demo-1.0.0.tar.gz.asc", name)
	assert.Equal(t, []byte("detached signature"), content)

	err := d.AddGPGSignature(sigPath, "demo-1.0.0.tar.gz.asc")
	require.EqualError(t, err, "demo-1.0.0.tar.gz already has a GPG signature attached")
}

func TestSign(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo-1.0.0.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0600))

	d := &DistFile{Path: path, BaseFilename: "demo-1.0.0.tar.gz"}
	signer := &stubSigner{}
	require.NoError(t, d.Sign(signer))

	assert.Equal(t, []string{path}, signer.signed)
	name, content, ok := d.GPGSignature()
	require.True(t, ok)
	assert.Equal(t, "demo-1.0.0.tar.gz.asc", name)
	assert.Equal(t, []byte("detached signature"), content)

	require.EqualError(t, d.Sign(signer), "demo-1.0.0.tar.gz already has a GPG signature attached")
}

func TestSign_signerError(t *testing.T) {
	d := &DistFile{Path: "/dist/demo-1.0.0.tar.gz", BaseFilename: "demo-1.0.0.tar.gz"}
	err := d.Sign(&stubSigner{err: errors.New("no secret key")})
	require.EqualError(t, err, "sign demo-1.0.0.tar.gz: no secret key")
}

func TestMetadataFields(t *testing.T) {
	d := &DistFile{
		Type:         TypeWheel,
		PyVersion:    "py3",
		Comment:      "built by ci",
		MD5Digest:    "md5digest",
		SHA256Digest: "sha256digest",
		Blake2Digest: "blake2digest",
		Metadata: Metadata{
			MetadataVersion: "2.1",
			Name:            "demo",
			Version:         "1.2.3",
			Summary:         "A demo package",
			Classifiers:     []string{"Programming Language :: Python :: 3", "License :: OSI Approved :: MIT License"},
			RequiresDist:    []string{"requests (>=2.0)", "idna"},
		},
	}

	fields := d.MetadataFields()

	assert.Equal(t, [2]string{"name", "demo"}, fields[0])
	assert.Equal(t, [2]string{"version", "1.2.3"}, fields[1])
	assert.Equal(t, [2]string{"filetype", "bdist_wheel"}, fields[2])
	assert.Equal(t, [2]string{"pyversion", "py3"}, fields[3])

	values := map[string][]string{}
	for _, field := range fields {
		values[field[0]] = append(values[field[0]], field[1])
	}
	assert.Equal(t, []string{"built by ci"}, values["comment"])
	assert.Equal(t, []string{"md5digest"}, values["md5_digest"])
	assert.Equal(t, []string{"sha256digest"}, values["sha256_digest"])
	assert.Equal(t, []string{"blake2digest"}, values["blake2_256_digest"])
	assert.Equal(t, []string{"Programming Language :: Python :: 3", "License :: OSI Approved :: MIT License"}, values["classifiers"])
	assert.Equal(t, []string{"requests (>=2.0)", "idna"}, values["requires_dist"])
}

func TestSignedBaseFilename(t *testing.T) {
	d := &DistFile{Path: "/dist/demo-1.0.0.tar.gz", BaseFilename: "demo-1.0.0.tar.gz"}
	assert.Equal(t, "/dist/demo-1.0.0.tar.gz.asc", d.SignedFilename())
	assert.Equal(t, "demo-1.0.0.tar.gz.asc", d.SignedBaseFilename())
}
