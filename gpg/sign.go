package gpg

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Signer produces a detached armored signature for the file at path and
// returns the path of the signature file.
type Signer interface {
	Sign(path string) (string, error)
}

// CommandSigner signs by shelling out to an installed signing program.
type CommandSigner struct {
	program    string
	identity   string
	cmdFactory command.Factory
	logger     log.Logger
}

// NewCommandSigner creates a signer that runs `program --detach-sign -a`.
// An empty identity uses the program's default signing key.
func NewCommandSigner(program string, identity string, cmdFactory command.Factory, logger log.Logger) *CommandSigner {
	return &CommandSigner{
		program:    program,
		identity:   identity,
		cmdFactory: cmdFactory,
		logger:     logger,
	}
}

// Sign ...
func (s *CommandSigner) Sign(path string) (string, error) {
	args := []string{"--detach-sign"}
	if s.identity != "" {
		args = append(args, "--local-user", s.identity)
	}
	args = append(args, "-a", path)

	cmd := s.cmdFactory.Create(s.program, args, nil)
	s.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return "", fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}

	return path + ".asc", nil
}
