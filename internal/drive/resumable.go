package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var rangeEndRe = regexp.MustCompile(`bytes=\d+-(\d+)`)

// resumableUpload drives Google's chunked upload protocol: an initial
// POST opens a session, then each chunk goes up with a Content-Range
// header. A 308 response carries "Range: bytes=0-N" for the bytes the
// server has; the next chunk starts at N+1. There is no retry loop —
// a network failure surfaces to the caller.
func (c *Client) resumableUpload(ctx context.Context, path string, size int64, opts UploadOptions) (*File, error) {
	sessionURL, err := c.openSession(ctx, path, size, opts)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	buf := make([]byte, c.ChunkSize)
	var offset int64

	for offset < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := src.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(src, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		end := offset + int64(n) - 1

		req, err := http.NewRequestWithContext(ctx, "PUT", sessionURL, bytes.NewReader(buf[:n]))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, size))
		req.ContentLength = int64(n)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == 308:
			next, ok := NextOffset(resp.Header.Get("Range"))
			resp.Body.Close()
			if !ok {
				// No Range header means the server has nothing yet.
				next = 0
			}
			offset = next
			if opts.OnProgress != nil && size > 0 {
				opts.OnProgress(float64(offset) / float64(size))
			}

		case resp.StatusCode == 200 || resp.StatusCode == 201:
			var f File
			decodeErr := json.NewDecoder(resp.Body).Decode(&f)
			resp.Body.Close()
			if decodeErr != nil {
				return nil, fmt.Errorf("invalid upload response: %v", decodeErr)
			}
			if opts.OnProgress != nil {
				opts.OnProgress(1)
			}
			log.Printf("[Drive] Uploaded %s (%.1fMB, resumable)", filepath.Base(path), float64(size)/(1024*1024))
			return &f, nil

		case resp.StatusCode == 401:
			resp.Body.Close()
			return nil, ErrNotAuthenticated

		default:
			err := uploadError(resp)
			resp.Body.Close()
			return nil, err
		}
	}

	return nil, fmt.Errorf("upload session ended without a completed file")
}

func (c *Client) openSession(ctx context.Context, path string, size int64, opts UploadOptions) (string, error) {
	body, _ := json.Marshal(metadata(path, opts.FolderID))
	req, err := http.NewRequestWithContext(ctx, "POST",
		c.UploadBase+"/files?uploadType=resumable", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+opts.Token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "application/octet-stream")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 401 {
		return "", ErrNotAuthenticated
	}
	if resp.StatusCode != 200 {
		return "", uploadError(resp)
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", fmt.Errorf("resumable session: missing Location header")
	}
	return sessionURL, nil
}

// NextOffset parses a 308 Range header ("bytes=0-N") into the byte
// offset the next chunk must start from: N+1.
func NextOffset(rangeHeader string) (int64, bool) {
	m := rangeEndRe.FindStringSubmatch(rangeHeader)
	if m == nil {
		return 0, false
	}
	end, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return end + 1, true
}
