package settings

import (
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/pflag"

	"github.com/khdc-me/twine/gpg"
	"github.com/khdc-me/twine/repository"
)

// Input is the raw command line surface of the upload command, before
// environment variables and the config file are folded in.
type Input struct {
	Repository    string
	RepositoryURL string
	Username      string
	Password      string
	Comment       string
	ConfigFile    string
	Sign          bool
	SignWith      string
	SignKey       string
	Identity      string
	SkipExisting  bool
	Verbose       bool
	S3Region      string
}

// RegisterFlags binds the shared upload flags to fs.
func RegisterFlags(fs *pflag.FlagSet, input *Input) {
	fs.StringVarP(&input.Repository, "repository", "r", "", "The repository (package index) to upload the package to. Should be a section in the config file (default: pypi)")
	fs.StringVar(&input.RepositoryURL, "repository-url", "", "The repository (package index) URL to upload the package to. This overrides --repository")
	fs.StringVarP(&input.Username, "username", "u", "", "The username to authenticate to the repository (package index) as")
	fs.StringVarP(&input.Password, "password", "p", "", "The password to authenticate to the repository (package index) with")
	fs.BoolVarP(&input.Sign, "sign", "s", false, "Sign files to upload using GPG")
	fs.StringVar(&input.SignWith, "sign-with", "gpg", "GPG program used to sign uploads")
	fs.StringVar(&input.SignKey, "sign-key", "", "Armored private key file used to sign uploads in-process, without a GPG program")
	fs.StringVarP(&input.Identity, "identity", "i", "", "GPG identity used to sign files with")
	fs.StringVarP(&input.Comment, "comment", "c", "", "The comment to include with the distribution file")
	fs.StringVar(&input.ConfigFile, "config-file", DefaultConfigFilePath, "The config file to use")
	fs.BoolVar(&input.SkipExisting, "skip-existing", false, "Continue uploading files if one already exists")
	fs.BoolVar(&input.Verbose, "verbose", false, "Show verbose output")
	fs.StringVar(&input.S3Region, "s3-region", "", "AWS region of an s3:// repository URL")
}

// Settings is the resolved configuration of one upload invocation.
type Settings struct {
	RepositoryName string
	RepositoryURL  string
	Username       string
	Password       Secret

	Sign       bool
	SignWith   string
	SignKey    string
	Identity   string
	Passphrase Secret

	Comment      string
	SkipExisting bool
	Verbose      bool

	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey Secret
}

// Resolve folds the raw input, the TWINE_* environment variables and the
// config file into final settings. Each value takes the first source that
// provides it: flag, then environment, then config file, then default.
func Resolve(input Input, envRepo env.Repository, pathModifier pathutil.PathModifier) (*Settings, error) {
	repositoryName := firstNonEmpty(input.Repository, envRepo.Get("TWINE_REPOSITORY"), "pypi")
	repositoryURL := firstNonEmpty(input.RepositoryURL, envRepo.Get("TWINE_REPOSITORY_URL"))
	username := firstNonEmpty(input.Username, envRepo.Get("TWINE_USERNAME"))
	password := firstNonEmpty(input.Password, envRepo.Get("TWINE_PASSWORD"))

	if repositoryURL != "" && !strings.Contains(repositoryURL, "://") {
		return nil, fmt.Errorf("repository URL %q is not a complete URL", repositoryURL)
	}

	if repositoryURL == "" {
		configFile := firstNonEmpty(input.ConfigFile, DefaultConfigFilePath)
		config, err := loadRepositoryConfig(configFile, repositoryName, pathModifier)
		if err != nil {
			return nil, err
		}
		repositoryURL = config.Repository
		username = firstNonEmpty(username, config.Username)
		password = firstNonEmpty(password, config.Password)
	}

	return &Settings{
		RepositoryName: repositoryName,
		RepositoryURL:  repositoryURL,
		Username:       username,
		Password:       Secret(password),
		Sign:           input.Sign || input.SignKey != "",
		SignWith:       firstNonEmpty(input.SignWith, "gpg"),
		SignKey:        input.SignKey,
		Identity:       input.Identity,
		Passphrase:     Secret(envRepo.Get("TWINE_SIGN_PASSPHRASE")),
		Comment:        input.Comment,
		SkipExisting:   input.SkipExisting,
		Verbose:        input.Verbose,

		S3Region:          firstNonEmpty(input.S3Region, envRepo.Get("AWS_REGION"), envRepo.Get("AWS_DEFAULT_REGION")),
		S3AccessKeyID:     envRepo.Get("AWS_ACCESS_KEY_ID"),
		S3SecretAccessKey: Secret(envRepo.Get("AWS_SECRET_ACCESS_KEY")),
	}, nil
}

// CheckRepositoryURL verifies the upload endpoint has a supported scheme.
func (s *Settings) CheckRepositoryURL() error {
	for _, scheme := range []string{"http://", "https://", "s3://"} {
		if strings.HasPrefix(s.RepositoryURL, scheme) {
			return nil
		}
	}
	return fmt.Errorf("unsupported repository URL: %s", s.RepositoryURL)
}

// CreateRepository builds the index client matching the repository URL.
func (s *Settings) CreateRepository(logger log.Logger) (repository.Repository, error) {
	if strings.HasPrefix(s.RepositoryURL, "s3://") {
		return repository.NewS3Client(repository.S3ClientParams{
			RepositoryURL:   s.RepositoryURL,
			Region:          s.S3Region,
			AccessKeyID:     s.S3AccessKeyID,
			SecretAccessKey: string(s.S3SecretAccessKey),
		}, logger)
	}

	return repository.NewClient(s.RepositoryURL, s.Username, string(s.Password), logger), nil
}

// CreateSigner picks the configured signature generator: an in-process
// signer when a key file is set, the external program otherwise.
func (s *Settings) CreateSigner(cmdFactory command.Factory, logger log.Logger) gpg.Signer {
	if s.SignKey != "" {
		return gpg.NewKeyfileSigner(s.SignKey, []byte(s.Passphrase), logger)
	}
	return gpg.NewCommandSigner(s.SignWith, s.Identity, cmdFactory, logger)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
