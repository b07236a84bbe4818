package gpg

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/bitrise-io/go-utils/v2/log"
)

// KeyfileSigner signs in-process with an armored private key file, so no
// gpg binary is needed on the machine running the upload.
type KeyfileSigner struct {
	keyPath    string
	passphrase []byte
	logger     log.Logger
}

// NewKeyfileSigner ...
func NewKeyfileSigner(keyPath string, passphrase []byte, logger log.Logger) *KeyfileSigner {
	return &KeyfileSigner{
		keyPath:    keyPath,
		passphrase: passphrase,
		logger:     logger,
	}
}

// Sign ...
func (s *KeyfileSigner) Sign(path string) (string, error) {
	entity, err := s.signingEntity()
	if err != nil {
		return "", err
	}

	message, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := message.Close(); err != nil {
			s.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	sigPath := path + ".asc"
	sig, err := os.Create(sigPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", sigPath, err)
	}

	if err := openpgp.ArmoredDetachSign(sig, entity, message, &packet.Config{}); err != nil {
		if closeErr := sig.Close(); closeErr != nil {
			s.logger.Warnf("Failed to close %s: %s", sigPath, closeErr)
		}
		return "", fmt.Errorf("sign %s: %w", path, err)
	}
	if err := sig.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", sigPath, err)
	}

	return sigPath, nil
}

func (s *KeyfileSigner) signingEntity() (*openpgp.Entity, error) {
	f, err := os.Open(s.keyPath)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warnf("Failed to close %s: %s", s.keyPath, err)
		}
	}()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read key ring %s: %w", s.keyPath, err)
	}

	for _, entity := range entities {
		if entity.PrivateKey == nil {
			continue
		}
		if err := s.decryptEntity(entity); err != nil {
			return nil, err
		}
		return entity, nil
	}

	return nil, fmt.Errorf("no private key found in %s", s.keyPath)
}

func (s *KeyfileSigner) decryptEntity(entity *openpgp.Entity) error {
	if entity.PrivateKey.Encrypted {
		if len(s.passphrase) == 0 {
			return fmt.Errorf("key %s is encrypted and no passphrase was provided", s.keyPath)
		}
		if err := entity.PrivateKey.Decrypt(s.passphrase); err != nil {
			return fmt.Errorf("decrypt key %s: %w", s.keyPath, err)
		}
	}
	for _, subkey := range entity.Subkeys {
		if subkey.PrivateKey == nil || !subkey.PrivateKey.Encrypted {
			continue
		}
		if len(s.passphrase) == 0 {
			return fmt.Errorf("key %s is encrypted and no passphrase was provided", s.keyPath)
		}
		if err := subkey.PrivateKey.Decrypt(s.passphrase); err != nil {
			return fmt.Errorf("decrypt subkey of %s: %w", s.keyPath, err)
		}
	}
	return nil
}
