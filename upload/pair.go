package upload

import (
	"path/filepath"
	"strings"
)

// splitSignatures partitions the resolved files into detached signatures,
// keyed by base filename, and the payloads to upload. A signature without a
// matching payload is left unused.
func splitSignatures(files []string) (signatures map[string]string, payloads []string) {
	signatures = map[string]string{}
	for _, file := range files {
		if strings.HasSuffix(file, ".asc") {
			signatures[filepath.Base(file)] = file
			continue
		}
		payloads = append(payloads, file)
	}
	return signatures, payloads
}
