package upload

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/khdc-me/twine/distfile"
	"github.com/khdc-me/twine/gpg"
	"github.com/khdc-me/twine/repository"
	"github.com/khdc-me/twine/settings"
)

// UploadInput is the information that comes from the command line.
type UploadInput struct {
	Settings *settings.Settings
	// Dists are the distribution paths or glob patterns to upload. A .asc
	// file next to a distribution is attached as its signature.
	Dists []string
}

// Uploader ...
type Uploader interface {
	Upload(input UploadInput) error
}

// RepositoryFactory builds the index client for resolved settings.
type RepositoryFactory interface {
	Create(s *settings.Settings) (repository.Repository, error)
}

// SignerFactory builds the signature generator for resolved settings.
type SignerFactory interface {
	Create(s *settings.Settings) gpg.Signer
}

type uploader struct {
	logger            log.Logger
	pathChecker       pathutil.PathChecker
	pathModifier      pathutil.PathModifier
	cmdFactory        command.Factory
	repositoryFactory RepositoryFactory
	signerFactory     SignerFactory
}

// NewUploader creates a new uploader instance. `repositoryFactory` and
// `signerFactory` can be nil, unless you want to provide custom
// implementations.
func NewUploader(
	logger log.Logger,
	pathChecker pathutil.PathChecker,
	pathModifier pathutil.PathModifier,
	cmdFactory command.Factory,
	repositoryFactory RepositoryFactory,
	signerFactory SignerFactory,
) *uploader {
	if repositoryFactory == nil {
		repositoryFactory = defaultRepositoryFactory{logger: logger}
	}
	if signerFactory == nil {
		signerFactory = defaultSignerFactory{cmdFactory: cmdFactory, logger: logger}
	}
	return &uploader{
		logger:            logger,
		pathChecker:       pathChecker,
		pathModifier:      pathModifier,
		cmdFactory:        cmdFactory,
		repositoryFactory: repositoryFactory,
		signerFactory:     signerFactory,
	}
}

// Upload resolves the requested distributions and submits them one by one,
// wheels first. The first rejected file aborts the batch, only files that
// already exist on the index are skipped. The repository connection is
// released exactly once, whichever way the batch ends.
func (u *uploader) Upload(input UploadInput) error {
	dists, err := u.findDistributions(input.Dists)
	if err != nil {
		return err
	}

	signatures, payloads := splitSignatures(dists)

	if err := input.Settings.CheckRepositoryURL(); err != nil {
		return err
	}

	u.logger.Printf("Uploading distributions to %s", input.Settings.RepositoryURL)

	repo, err := u.repositoryFactory.Create(input.Settings)
	if err != nil {
		return fmt.Errorf("create repository client: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			u.logger.Warnf("Failed to close repository connections: %s", err)
		}
	}()

	uploaded, skipped := 0, 0
	for _, filename := range payloads {
		outcome, err := u.uploadOne(repo, input.Settings, signatures, filename)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeSkipped:
			skipped++
		default:
			uploaded++
		}
	}

	u.logger.Println()
	u.logger.Donef("Uploaded %d distributions, skipped %d", uploaded, skipped)
	return nil
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeSkipped
)

func (u *uploader) uploadOne(repo repository.Repository, s *settings.Settings, signatures map[string]string, filename string) (outcome, error) {
	pkg, err := distfile.FromFilename(filename, s.Comment)
	if err != nil {
		return outcomeUploaded, err
	}

	// The existence check must come first: a skipped file must not cost
	// signature work or an upload attempt.
	if s.SkipExisting {
		exists, err := repo.PackageIsUploaded(pkg)
		if err != nil {
			return outcomeUploaded, fmt.Errorf("check %s on the index: %w", pkg.BaseFilename, err)
		}
		if exists {
			u.logger.Printf("  Skipping %s because it appears to already exist", pkg.BaseFilename)
			return outcomeSkipped, nil
		}
	}

	if sigPath, ok := signatures[pkg.SignedBaseFilename()]; ok {
		if err := pkg.AddGPGSignature(sigPath, pkg.SignedBaseFilename()); err != nil {
			return outcomeUploaded, err
		}
	} else if s.Sign {
		if err := pkg.Sign(u.signerFactory.Create(s)); err != nil {
			return outcomeUploaded, err
		}
	}

	resp, err := repo.Upload(pkg)
	if err != nil {
		return outcomeUploaded, err
	}

	if resp.IsRedirect {
		return outcomeUploaded, &RedirectError{RepositoryURL: s.RepositoryURL, Location: resp.Location}
	}

	if skipUpload(resp, s.SkipExisting, pkg) {
		u.logger.Printf("  Skipping %s because it appears to already exist", pkg.BaseFilename)
		return outcomeSkipped, nil
	}

	if err := u.checkStatus(resp, pkg, s.Verbose); err != nil {
		return outcomeUploaded, err
	}
	return outcomeUploaded, nil
}

func (u *uploader) checkStatus(resp *repository.Response, pkg *distfile.DistFile, verbose bool) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if verbose && resp.Body != "" {
		u.logger.Warnf("Content received from server:\n%s", resp.Body)
	} else if !verbose {
		u.logger.Warnf("NOTE: Try --verbose to see response content.")
	}

	return &UploadError{
		Filename:   pkg.BaseFilename,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
}

type defaultRepositoryFactory struct {
	logger log.Logger
}

func (f defaultRepositoryFactory) Create(s *settings.Settings) (repository.Repository, error) {
	return s.CreateRepository(f.logger)
}

type defaultSignerFactory struct {
	cmdFactory command.Factory
	logger     log.Logger
}

func (f defaultSignerFactory) Create(s *settings.Settings) gpg.Signer {
	return s.CreateSigner(f.cmdFactory, f.logger)
}
