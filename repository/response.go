package repository

import (
	"fmt"
	"net/http"
	"strings"
)

// Response is an index server's answer to an upload attempt, reduced to the
// fields the upload flow branches on.
type Response struct {
	StatusCode int
	Status     string
	// Reason is the status line with the numeric code stripped. PyPI
	// explains duplicate uploads there rather than in the body.
	Reason     string
	IsRedirect bool
	Location   string
	Body       string
}

func newResponse(resp *http.Response, body []byte) *Response {
	location := resp.Header.Get("Location")
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Reason:     strings.TrimPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)),
		IsRedirect: isRedirectCode(resp.StatusCode) && location != "",
		Location:   location,
		Body:       string(body),
	}
}

func isRedirectCode(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}
