package upload

import "fmt"

// RedirectError aborts a batch when the index answers an upload with a
// redirect. Redirects are never followed during an upload, the target is
// reported to the user instead.
type RedirectError struct {
	RepositoryURL string
	Location      string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%q attempted to redirect to %q during upload. Aborting...", e.RepositoryURL, e.Location)
}

// UploadError is an upload attempt the index rejected.
type UploadError struct {
	Filename   string
	StatusCode int
	Status     string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s was rejected: %s", e.Filename, e.Status)
}
