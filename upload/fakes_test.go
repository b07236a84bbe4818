package upload

import (
	"os"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/khdc-me/twine/distfile"
	"github.com/khdc-me/twine/gpg"
	"github.com/khdc-me/twine/repository"
	"github.com/khdc-me/twine/settings"
)

func newTestUploader(repositoryFactory RepositoryFactory, signerFactory SignerFactory) *uploader {
	return NewUploader(
		log.NewLogger(),
		pathutil.NewPathChecker(),
		pathutil.NewPathModifier(),
		command.NewFactory(env.NewRepository()),
		repositoryFactory,
		signerFactory,
	)
}

func testSettings() *settings.Settings {
	return &settings.Settings{
		RepositoryName: "pypi",
		RepositoryURL:  "https://upload.example.com/legacy/",
		Username:       "alice",
		Password:       "wonderland",
		SignWith:       "gpg",
	}
}

func okResponse() *repository.Response {
	return &repository.Response{StatusCode: 200, Status: "200 OK", Reason: "OK"}
}

type fakeRepository struct {
	existing     []string
	responses    map[string]*repository.Response
	existenceErr error
	uploadErr    error

	existenceChecks []string
	uploads         []*distfile.DistFile
	closeCalls      int
}

func (r *fakeRepository) PackageIsUploaded(d *distfile.DistFile) (bool, error) {
	r.existenceChecks = append(r.existenceChecks, d.BaseFilename)
	if r.existenceErr != nil {
		return false, r.existenceErr
	}
	for _, filename := range r.existing {
		if filename == d.BaseFilename {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepository) Upload(d *distfile.DistFile) (*repository.Response, error) {
	r.uploads = append(r.uploads, d)
	if r.uploadErr != nil {
		return nil, r.uploadErr
	}
	if resp, ok := r.responses[d.BaseFilename]; ok {
		return resp, nil
	}
	return okResponse(), nil
}

func (r *fakeRepository) Close() error {
	r.closeCalls++
	return nil
}

type fakeRepositoryFactory struct {
	repo      *fakeRepository
	createErr error

	created int
}

func (f *fakeRepositoryFactory) Create(s *settings.Settings) (repository.Repository, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.repo, nil
}

type fakeSigner struct {
	err error

	signed []string
}

func (s *fakeSigner) Sign(path string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.signed = append(s.signed, path)

	sigPath := path + ".asc"
	if err := os.WriteFile(sigPath, []byte("-----BEGIN PGP SIGNATURE-----\n\nZmFrZQ==\n-----END PGP SIGNATURE-----\n"), 0600); err != nil {
		return "", err
	}
	return sigPath, nil
}

type fakeSignerFactory struct {
	signer *fakeSigner
}

func (f *fakeSignerFactory) Create(s *settings.Settings) gpg.Signer {
	return f.signer
}
