package azure

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// retryableErrorCode is the ARM error code the network provider returns for
// conflicting concurrent updates that will succeed when replayed.
const retryableErrorCode = "RetryableError"

// classify maps an ARM error onto a submission outcome. Only throttling and
// the provider's explicit retryable code are transient.
func classify(err error) converge.SubmissionOutcome {
	if err == nil {
		return converge.Success()
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusTooManyRequests || strings.EqualFold(respErr.ErrorCode, retryableErrorCode) {
			return converge.Transient(err)
		}
	}
	return converge.Fatal(err)
}

// provisioningStatus maps a NIC provisioning state onto a convergence state.
func provisioningStatus(iface armnetwork.Interface) converge.Status {
	if iface.Properties == nil || iface.Properties.ProvisioningState == nil {
		return converge.Status{State: converge.ConvergencePending}
	}

	switch state := *iface.Properties.ProvisioningState; state {
	case armnetwork.ProvisioningStateSucceeded:
		return converge.Status{State: converge.ConvergenceSucceeded}
	case armnetwork.ProvisioningStateFailed:
		name := ""
		if iface.Name != nil {
			name = *iface.Name
		}
		return converge.Status{
			State:  converge.ConvergenceFailed,
			Detail: "network interface " + name + " provisioning state is " + string(state),
		}
	default:
		return converge.Status{State: converge.ConvergencePending}
	}
}
