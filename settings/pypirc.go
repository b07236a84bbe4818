package settings

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"gopkg.in/ini.v1"
)

// Repository endpoints that work without a configuration file entry.
const (
	DefaultRepository = "https://upload.pypi.org/legacy/"
	TestRepository    = "https://test.pypi.org/legacy/"

	// DefaultConfigFilePath is the conventional location of the repository
	// configuration file.
	DefaultConfigFilePath = "~/.pypirc"
)

// RepositoryConfig is one resolved repository section of the config file.
type RepositoryConfig struct {
	Repository string
	Username   string
	Password   string
}

func loadRepositoryConfig(configFile string, repositoryName string, pathModifier pathutil.PathModifier) (RepositoryConfig, error) {
	configs, err := readConfigFile(configFile, pathModifier)
	if err != nil {
		return RepositoryConfig{}, err
	}

	config, ok := configs[repositoryName]
	if !ok {
		return RepositoryConfig{}, fmt.Errorf("missing %q section from the configuration file %s", repositoryName, configFile)
	}
	return config, nil
}

// readConfigFile parses an INI file of repository sections. The pypi and
// testpypi sections exist even without a file. A distutils section can
// restrict or extend the known section names, and a server-login section
// provides fallback credentials for all of them.
func readConfigFile(configFile string, pathModifier pathutil.PathModifier) (map[string]RepositoryConfig, error) {
	path, err := pathModifier.AbsPath(configFile)
	if err != nil {
		return nil, fmt.Errorf("resolve config file path: %w", err)
	}

	// Loose tolerates a missing file, the built in sections still work.
	// Python multiline values are how index-servers lists are written.
	file, err := ini.LoadSources(ini.LoadOptions{
		Loose:                      true,
		AllowPythonMultilineValues: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}

	indexServers := []string{"pypi", "testpypi"}
	if file.Section("distutils").HasKey("index-servers") {
		indexServers = strings.Fields(file.Section("distutils").Key("index-servers").String())
	}

	var defaultUsername, defaultPassword string
	if file.Section("server-login").HasKey("username") {
		defaultUsername = file.Section("server-login").Key("username").String()
	}
	if file.Section("server-login").HasKey("password") {
		defaultPassword = file.Section("server-login").Key("password").String()
	}

	configs := map[string]RepositoryConfig{
		"pypi": {Repository: DefaultRepository},
	}
	if slices.Contains(indexServers, "testpypi") {
		configs["testpypi"] = RepositoryConfig{Repository: TestRepository}
	}

	for _, name := range indexServers {
		config := configs[name]
		section := file.Section(name)
		if section.HasKey("repository") {
			config.Repository = section.Key("repository").String()
		}
		if section.HasKey("username") {
			config.Username = section.Key("username").String()
		}
		if section.HasKey("password") {
			config.Password = section.Key("password").String()
		}
		configs[name] = config
	}

	for name, config := range configs {
		if config.Username == "" {
			config.Username = defaultUsername
		}
		if config.Password == "" {
			config.Password = defaultPassword
		}
		configs[name] = config
	}

	return configs, nil
}
