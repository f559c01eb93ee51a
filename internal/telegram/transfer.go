package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// counter reports cumulative bytes written through it.
type counter struct {
	done     int64
	total    int64
	progress func(done, total int64)
}

func (c *counter) Write(p []byte) (int, error) {
	c.done += int64(len(p))
	if c.progress != nil {
		c.progress(c.done, c.total)
	}
	return len(p), nil
}

// progressReader counts bytes read by the multipart upload.
type progressReader struct {
	r io.Reader
	c *counter
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		_, _ = p.c.Write(b[:n])
	}
	return n, err
}

// fetch streams url into dst. A 429 becomes a RateLimitError honoring the
// Retry-After header.
func fetch(ctx context.Context, hc *http.Client, url, dst string, size int64, progress func(done, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Second
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			wait = time.Duration(s) * time.Second
		}
		return &RateLimitError{RetryAfter: wait, Err: fmt.Errorf("HTTP %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %s", resp.Status)
	}

	total := size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	return writeFile(dst, io.TeeReader(resp.Body, &counter{total: total, progress: progress}))
}

// copyLocal serves files a local Bot API server already stored on disk.
func copyLocal(src, dst string, progress func(done, total int64)) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	var total int64
	if fi, err := in.Stat(); err == nil {
		total = fi.Size()
	}
	return writeFile(dst, io.TeeReader(in, &counter{total: total, progress: progress}))
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
