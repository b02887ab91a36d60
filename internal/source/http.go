package source

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/scigolib/h5r/internal/utils"
)

// Number of attempts per range read before the error is surfaced.
const httpMaxRetries = 3

// HTTPSource reads from an HTTP(S) endpoint that honors Range requests.
// The total length is established once with a HEAD request; every ReadAt
// issues one ranged GET. Transient failures (connection errors, 5xx) are
// retried with exponential backoff.
type HTTPSource struct {
	url    string
	client *http.Client
	size   int64
}

// OpenHTTP opens a URL as a byte source. A nil client uses
// http.DefaultClient.
func OpenHTTP(url string, client *http.Client) (*HTTPSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	s := &HTTPSource{url: url, client: client}

	size, err := s.contentLength()
	if err != nil {
		return nil, utils.WrapError("content length request failed", err)
	}
	s.size = size
	return s, nil
}

func (s *HTTPSource) contentLength() (int64, error) {
	var size int64
	op := func() error {
		req, err := http.NewRequest(http.MethodHead, s.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("HEAD %s: status %d", s.url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("HEAD %s: status %d", s.url, resp.StatusCode))
		}
		if resp.ContentLength < 0 {
			return backoff.Permanent(fmt.Errorf("HEAD %s: no Content-Length", s.url))
		}
		size = resp.ContentLength
		return nil
	}
	if err := backoff.Retry(op, s.policy()); err != nil {
		return 0, err
	}
	return size, nil
}

// ReadAt implements io.ReaderAt with one ranged GET per call.
func (s *HTTPSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	start := off
	end := off + int64(len(p)) - 1

	var n int
	op := func() error {
		req, err := http.NewRequest(http.MethodGet, s.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		logrus.Debugf("http range request: bytes=%d-%d %s", start, end, s.url)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("GET %s: status %d", s.url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("GET %s: status %d", s.url, resp.StatusCode))
		}

		n, err = io.ReadFull(resp.Body, p)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Short body past end of file behaves like a short file read.
			return nil
		}
		return err
	}

	if err := backoff.Retry(op, s.policy()); err != nil {
		return 0, utils.WrapError("http range read failed", err)
	}
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (s *HTTPSource) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, httpMaxRetries-1)
}

// Size returns the remote content length.
func (s *HTTPSource) Size() int64 {
	return s.size
}

// Close is a no-op; the HTTP client is owned by the caller.
func (s *HTTPSource) Close() error {
	return nil
}
