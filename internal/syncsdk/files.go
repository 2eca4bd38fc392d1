package syncsdk

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/imroc/req/v3"
)

const (
	v1Files        = "/api/v1/files/{service}"
	v1FilesContent = v1Files + "/content"
	v1FilesHistory = v1Files + "/history"
	v1FilesRestore = v1Files + "/restore"
)

type FilesAPI struct {
	client *req.Client
}

func newFilesAPI(client *req.Client) *FilesAPI {
	return &FilesAPI{client: client}
}

// List returns the current files of a service type, optionally filtered by a doublestar glob
func (f *FilesAPI) List(ctx context.Context, st synctypes.ServiceType, glob string) (apiResp *ListResponse, err error) {
	r := f.client.R().
		SetContext(ctx).
		SetPathParam("service", string(st)).
		SetSuccessResult(&apiResp)
	if glob != "" {
		r.SetQueryParam("glob", glob)
	}

	resp, err := r.Get(v1Files)
	if err := handleAPIError(resp, err, "files list"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// Download opens a revision of path, the current one when rev is nil. The caller closes the body.
func (f *FilesAPI) Download(ctx context.Context, st synctypes.ServiceType, path string, rev *int) (io.ReadCloser, *FileMeta, error) {
	r := f.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		SetPathParam("service", string(st)).
		SetQueryParam("path", path)
	if rev != nil {
		r.SetQueryParam("revision", strconv.Itoa(*rev))
	}

	resp, err := r.Get(v1FilesContent)
	if err != nil {
		return nil, nil, fmt.Errorf("http request error: files download %w", err)
	}

	if resp.IsErrorState() {
		defer resp.Body.Close()
		return nil, nil, fmt.Errorf("files download %s: %w", path, readAPIError(resp))
	}

	meta, err := fileMeta(path, resp)
	if err != nil {
		resp.Body.Close()
		return nil, nil, err
	}
	return resp.Body, meta, nil
}

func (f *FilesAPI) History(ctx context.Context, st synctypes.ServiceType, path string) (apiResp *HistoryResponse, err error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("service", string(st)).
		SetQueryParam("path", path).
		SetSuccessResult(&apiResp).
		Get(v1FilesHistory)

	if err := handleAPIError(resp, err, "files history"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// Restore makes revision rev of path current again as a new revision
func (f *FilesAPI) Restore(ctx context.Context, st synctypes.ServiceType, path string, rev int) (apiResp *Record, err error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetPathParam("service", string(st)).
		SetBody(map[string]any{"path": path, "revision": rev}).
		SetSuccessResult(&apiResp).
		Post(v1FilesRestore)

	if err := handleAPIError(resp, err, "files restore"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func fileMeta(path string, resp *req.Response) (*FileMeta, error) {
	meta := &FileMeta{
		Path:        path,
		ContentHash: resp.GetHeader(HeaderContentHash),
		Size:        resp.ContentLength,
	}

	rev, err := strconv.Atoi(resp.GetHeader(HeaderRevision))
	if err != nil {
		return nil, fmt.Errorf("files download %s: bad %s header: %w", path, HeaderRevision, err)
	}
	meta.Revision = rev

	modifiedAt, err := time.Parse(time.RFC3339, resp.GetHeader(HeaderModifiedAt))
	if err != nil {
		return nil, fmt.Errorf("files download %s: bad %s header: %w", path, HeaderModifiedAt, err)
	}
	meta.ModifiedAt = modifiedAt

	return meta, nil
}

// readAPIError decodes the error body of a response that was not read automatically
func readAPIError(resp *req.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		var apiErr APIError
		if jsonUnmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return &apiErr
		}
	}
	return &APIError{Code: CodeUnknownError, Message: fmt.Sprintf("status %d", resp.GetStatusCode())}
}
