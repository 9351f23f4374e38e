package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/squishvid/squish/internal/config"
)

// ErrNotAuthenticated means no usable access token was supplied. The
// caller is expected to send the user through /auth/google/start; the
// upload itself never completes.
var ErrNotAuthenticated = errors.New("not authenticated with google drive")

const (
	defaultAPIBase    = "https://www.googleapis.com/drive/v3"
	defaultUploadBase = "https://www.googleapis.com/upload/drive/v3"
)

type File struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink"`
}

type UploadOptions struct {
	FolderID   string
	Resumable  bool
	Token      string
	OnProgress func(fraction float64)
}

type Client struct {
	APIBase    string
	UploadBase string
	HTTP       *http.Client

	SimpleUploadLimit int64
	ChunkSize         int64
}

func NewClient() *Client {
	return &Client{
		APIBase:           defaultAPIBase,
		UploadBase:        defaultUploadBase,
		HTTP:              &http.Client{Timeout: 10 * time.Minute},
		SimpleUploadLimit: config.SimpleUploadLimit,
		ChunkSize:         config.UploadChunkSize,
	}
}

// Upload sends path to Drive. Files at or under SimpleUploadLimit go as
// a single multipart request unless Resumable is forced; everything
// else goes through a resumable session.
func (c *Client) Upload(ctx context.Context, path string, opts UploadOptions) (*File, error) {
	if opts.Token == "" {
		return nil, ErrNotAuthenticated
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var f *File
	if !opts.Resumable && info.Size() <= c.SimpleUploadLimit {
		f, err = c.multipartUpload(ctx, path, info.Size(), opts)
	} else {
		f, err = c.resumableUpload(ctx, path, info.Size(), opts)
	}
	if err != nil {
		return nil, err
	}

	if f.WebViewLink == "" {
		// Upload responses omit webViewLink unless asked; fetch it.
		if full, err := c.getFile(ctx, f.ID, opts.Token); err == nil {
			f.WebViewLink = full.WebViewLink
		}
	}
	return f, nil
}

// ShareAnyone grants "anyone with the link can view". Callers treat a
// failure as non-fatal: the upload already succeeded and webViewLink
// still works for the owner.
func (c *Client) ShareAnyone(ctx context.Context, fileID, token string) error {
	body, _ := json.Marshal(map[string]string{"role": "reader", "type": "anyone"})
	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/files/%s/permissions", c.APIBase, fileID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("permissions: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) multipartUpload(ctx context.Context, path string, size int64, opts UploadOptions) (*File, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(metaPart).Encode(metadata(path, opts.FolderID)); err != nil {
		return nil, err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "application/octet-stream")
	mediaPart, err := w.CreatePart(mediaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(mediaPart, src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.UploadBase+"/files?uploadType=multipart", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+opts.Token)
	req.Header.Set("Content-Type", "multipart/related; boundary="+w.Boundary())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 401 {
		return nil, ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, uploadError(resp)
	}

	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("invalid upload response: %v", err)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}
	log.Printf("[Drive] Uploaded %s (%.1fMB, multipart)", filepath.Base(path), float64(size)/(1024*1024))
	return &f, nil
}

func (c *Client) getFile(ctx context.Context, id, token string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/files/%s?fields=id,name,webViewLink", c.APIBase, id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("file info: HTTP %d", resp.StatusCode)
	}

	var f File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func metadata(path, folderID string) map[string]interface{} {
	meta := map[string]interface{}{"name": filepath.Base(path)}
	if folderID != "" {
		meta["parents"] = []string{folderID}
	}
	return meta
}

func uploadError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, parsed.Error.Message)
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode)
}
