package syncsdk

import (
	"context"
	"io"
	"net/url"

	"github.com/imroc/req/v3"
)

const (
	v1TxBegin = "/api/v1/tx/begin"
	v1Tx      = "/api/v1/tx/{id}"
)

type TxAPI struct {
	client *req.Client
}

func newTxAPI(client *req.Client) *TxAPI {
	return &TxAPI{client: client}
}

// Begin opens a transaction. The service lock is held until Apply or Rollback.
func (t *TxAPI) Begin(ctx context.Context, params *BeginParams) (apiResp *BeginResponse, err error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1TxBegin)

	if err := handleAPIError(resp, err, "tx begin"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (t *TxAPI) Plan(ctx context.Context, txID string) (apiResp *PlanResponse, err error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("id", txID).
		SetSuccessResult(&apiResp).
		Get(v1Tx + "/plan")

	if err := handleAPIError(resp, err, "tx plan"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

// Upload stages the client copy of path for the transaction
func (t *TxAPI) Upload(ctx context.Context, txID, path string, content io.Reader) (apiResp *UploadResponse, err error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetPathParam("id", txID).
		SetQueryParam("path", path).
		SetFileReader("file", url.PathEscape(path), content).
		SetSuccessResult(&apiResp).
		Put(v1Tx + "/files")

	if err := handleAPIError(resp, err, "tx upload"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (t *TxAPI) Apply(ctx context.Context, txID string, params *ApplyParams) (apiResp *Result, err error) {
	if params == nil {
		params = &ApplyParams{}
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetPathParam("id", txID).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1Tx + "/apply")

	if err := handleAPIError(resp, err, "tx apply"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (t *TxAPI) Rollback(ctx context.Context, txID string) (apiResp *Result, err error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("id", txID).
		SetSuccessResult(&apiResp).
		Post(v1Tx + "/rollback")

	if err := handleAPIError(resp, err, "tx rollback"); err != nil {
		return nil, err
	}
	return apiResp, nil
}
