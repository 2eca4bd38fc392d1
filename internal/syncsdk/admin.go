package syncsdk

import (
	"context"
	"strconv"

	"github.com/imroc/req/v3"
)

const (
	v1Status            = "/api/v1/status"
	v1AdminTransactions = "/api/v1/admin/transactions"
	v1AdminCancel       = v1AdminTransactions + "/{id}/cancel"
	v1AdminOperations   = "/api/v1/admin/operations"
)

type AdminAPI struct {
	client *req.Client
}

func newAdminAPI(client *req.Client) *AdminAPI {
	return &AdminAPI{client: client}
}

// Status reports who holds each service type
func (a *AdminAPI) Status(ctx context.Context) (apiResp *StatusResponse, err error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1Status)

	if err := handleAPIError(resp, err, "status"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (a *AdminAPI) Transactions(ctx context.Context) (apiResp *TransactionsResponse, err error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1AdminTransactions)

	if err := handleAPIError(resp, err, "admin transactions"); err != nil {
		return nil, err
	}
	return apiResp, nil
}

func (a *AdminAPI) Cancel(ctx context.Context, txID string) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetPathParam("id", txID).
		Post(v1AdminCancel)

	return handleAPIError(resp, err, "admin cancel")
}

func (a *AdminAPI) Operations(ctx context.Context, limit int) (apiResp *OperationsResponse, err error) {
	r := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp)
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := r.Get(v1AdminOperations)
	if err := handleAPIError(resp, err, "admin operations"); err != nil {
		return nil, err
	}
	return apiResp, nil
}
