package fetch

import (
	"io"
	"net/http"
)

// readBody enforces the byte ceiling while draining resp.Body. The
// declared Content-Length is checked before any read so oversized bodies
// are refused without transferring them; bodies of unknown length are
// read through a limit of one extra byte to detect overflow.
func readBody(resp *http.Response, maxBytes int64, truncate bool) ([]byte, bool, error) {
	if resp.ContentLength > maxBytes && !truncate {
		return nil, false, newError(CodeSizeExceeded,
			"declared content length %d exceeds the %d byte limit", resp.ContentLength, maxBytes).
			withStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, false, wrapError(CodeInvalidResponse, err, "reading response body").
			withStatus(resp.StatusCode)
	}
	if int64(len(body)) > maxBytes {
		if truncate {
			return body[:maxBytes], true, nil
		}
		return nil, false, newError(CodeSizeExceeded,
			"response body exceeds the %d byte limit", maxBytes).withStatus(resp.StatusCode)
	}
	return body, false, nil
}
