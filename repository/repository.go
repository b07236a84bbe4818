package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/docker/go-units"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/khdc-me/twine/distfile"
)

const userAgent = "twine/1.0.0"

// DefaultQueryBaseURL is the release listing API used for existence checks.
const DefaultQueryBaseURL = "https://pypi.org/pypi"

// Repository accepts finished distributions for publication.
type Repository interface {
	// PackageIsUploaded reports whether the exact release file is already
	// present on the index.
	PackageIsUploaded(d *distfile.DistFile) (bool, error)
	// Upload submits one distribution and returns the classified response.
	Upload(d *distfile.DistFile) (*Response, error)
	// Close releases the connections held by the client. It is called once
	// per command invocation, after the last upload.
	Close() error
}

// Client uploads distributions to an HTTP package index.
type Client struct {
	repositoryURL string
	username      string
	password      string
	queryBaseURL  string

	uploadClient *retryablehttp.Client
	queryClient  *retryablehttp.Client
	logger       log.Logger

	// release listings fetched from the index, keyed by safe package name
	releases map[string]map[string][]string
}

// NewClient creates an index client for the given repository endpoint.
// Upload requests never retry (a replayed POST could double-publish) and
// never follow redirects, so the caller can inspect them.
func NewClient(repositoryURL string, username string, password string, logger log.Logger) *Client {
	uploadClient := retryhttp.NewClient(logger)
	uploadClient.RetryMax = 0
	// Hand back error responses instead of a giving-up error, the caller
	// reports the status to the user.
	uploadClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	uploadClient.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		repositoryURL: repositoryURL,
		username:      username,
		password:      password,
		queryBaseURL:  DefaultQueryBaseURL,
		uploadClient:  uploadClient,
		queryClient:   retryhttp.NewClient(logger),
		logger:        logger,
		releases:      map[string]map[string][]string{},
	}
}

// Upload ...
func (c *Client) Upload(d *distfile.DistFile) (*Response, error) {
	c.logger.Infof("Uploading %s (%s)", d.BaseFilename, units.HumanSize(float64(d.Size)))

	form, contentType, err := c.uploadForm(d)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.repositoryURL, form)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", d.BaseFilename, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response for %s: %w", d.BaseFilename, err)
	}

	return newResponse(resp, body), nil
}

func (c *Client) uploadForm(d *distfile.DistFile) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{":action", "file_upload"},
		{"protocol_version", "1"},
	}
	fields = append(fields, d.MetadataFields()...)
	for _, field := range fields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", field[0], err)
		}
	}

	if name, content, ok := d.GPGSignature(); ok {
		part, err := w.CreateFormFile("gpg_signature", name)
		if err != nil {
			return nil, "", fmt.Errorf("create signature part: %w", err)
		}
		if _, err := part.Write(content); err != nil {
			return nil, "", fmt.Errorf("write signature part: %w", err)
		}
	}

	part, err := w.CreateFormFile("content", d.BaseFilename)
	if err != nil {
		return nil, "", fmt.Errorf("create content part: %w", err)
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", d.Path, err)
	}
	_, err = io.Copy(part, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", d.Path, err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// PackageIsUploaded checks the index release listing for a file with the
// same name. Listings are cached per package for the life of the client, so
// a batch of artifacts of one release costs a single query.
func (c *Client) PackageIsUploaded(d *distfile.DistFile) (bool, error) {
	safeName := d.SafeName()

	releases, ok := c.releases[safeName]
	if !ok {
		fetched, err := c.fetchReleases(safeName)
		if err != nil {
			return false, err
		}
		c.releases[safeName] = fetched
		releases = fetched
	}

	for _, filename := range releases[d.Metadata.Version] {
		if filename == d.BaseFilename {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) fetchReleases(safeName string) (map[string][]string, error) {
	url := fmt.Sprintf("%s/%s/json", c.queryBaseURL, safeName)

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.queryClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query releases of %s: %w", safeName, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	// A package that was never uploaded has no release listing.
	if resp.StatusCode != http.StatusOK {
		c.logger.Debugf("No release listing for %s (HTTP %d)", safeName, resp.StatusCode)
		return map[string][]string{}, nil
	}

	var listing struct {
		Releases map[string][]struct {
			Filename string `json:"filename"`
		} `json:"releases"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode release listing of %s: %w", safeName, err)
	}

	releases := make(map[string][]string, len(listing.Releases))
	for version, files := range listing.Releases {
		names := make([]string, 0, len(files))
		for _, file := range files {
			names = append(names, file.Filename)
		}
		releases[version] = names
	}
	return releases, nil
}

// Close ...
func (c *Client) Close() error {
	c.uploadClient.HTTPClient.CloseIdleConnections()
	c.queryClient.HTTPClient.CloseIdleConnections()
	return nil
}
