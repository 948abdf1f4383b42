package openstack

import (
	"errors"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// classify turns a Gophercloud error into a submission outcome.
// HTTP 429/408/500/503/504 and errors that carry no HTTP status at all
// (DNS failure, connection reset) are transient. Every other HTTP status
// means the request itself is wrong and is fatal.
func classify(err error) converge.SubmissionOutcome {
	if err == nil {
		return converge.Success()
	}

	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		switch unexpected.Actual {
		case http.StatusTooManyRequests,
			http.StatusRequestTimeout,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return converge.Transient(err)
		default:
			return converge.Fatal(err)
		}
	}

	return converge.Transient(err)
}
