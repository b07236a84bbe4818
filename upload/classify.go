package upload

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/khdc-me/twine/distfile"
	"github.com/khdc-me/twine/repository"
)

// skipUpload decides whether a rejected upload only means the file is
// already on the index. Legacy PyPI answers 400 with the explanation in the
// status line reason, Warehouse and other indexes answer 409. This is the
// only place that inspects server wording.
func skipUpload(resp *repository.Response, skipExisting bool, d *distfile.DistFile) bool {
	if !skipExisting {
		return false
	}
	if resp.StatusCode == http.StatusConflict {
		return true
	}
	return resp.StatusCode == http.StatusBadRequest && isAlreadyExistsReason(resp.Reason, d.BaseFilename)
}

func isAlreadyExistsReason(reason string, filename string) bool {
	return strings.HasPrefix(reason, fmt.Sprintf(`A file named "%s" already exists for`, filename)) ||
		strings.HasPrefix(reason, "File already exists")
}
