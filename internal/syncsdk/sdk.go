package syncsdk

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/InsereNomen/AlderSync/internal/version"
	"github.com/imroc/req/v3"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderVersion   = "X-AlderSync-Version"
	HeaderUser      = "X-AlderSync-User"

	HeaderContentHash = "X-Content-Hash"
	HeaderRevision    = "X-Revision"
	HeaderModifiedAt  = "X-Modified-At"
)

var UserAgent = fmt.Sprintf("AlderSync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// SyncSDK is the client for the AlderSync API
type SyncSDK struct {
	client *req.Client
	config *Config
	Tx     *TxAPI
	Files  *FilesAPI
	Admin  *AdminAPI
}

func New(config *Config) (*SyncSDK, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		SetCommonRetryCondition(retryable).
		SetUserAgent(UserAgent).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if config.AccessToken != "" {
		client.SetCommonBearerAuthToken(config.AccessToken)
	}
	if config.User != "" {
		client.SetCommonHeader(HeaderUser, config.User)
	}

	return &SyncSDK{
		client: client,
		config: config,
		Tx:     newTxAPI(client),
		Files:  newFilesAPI(client),
		Admin:  newAdminAPI(client),
	}, nil
}

func (s *SyncSDK) BaseURL() string {
	return s.config.BaseURL
}

// retryable retries transport errors and overloaded servers, never rejected requests
func retryable(resp *req.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	switch resp.GetStatusCode() {
	case 502, 503, 504:
		return true
	}
	return false
}
