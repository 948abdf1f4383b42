package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// Client manages the connection to an OpenStack cloud.
// API calls that are not part of a convergent operation (authentication,
// cleanup) are retried with the same scheduler as submissions.
type Client struct {
	// ProfileName corresponds to the entry in clouds.yaml
	ProfileName string
	// RetryConfig bounds retries of individual API calls
	RetryConfig cloud.RetryConfig
	Logger      *slog.Logger

	BlockStorageClient *gophercloud.ServiceClient
}

// GetCloudProviderName returns the identifier for this provider.
func (c *Client) GetCloudProviderName() string {
	return "openstack"
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// executeWithRetry runs a single API call under the client's retry policy.
func (c *Client) executeWithRetry(ctx context.Context, opName string, operation func(ctx context.Context) error) error {
	scheduler, err := converge.NewRetryScheduler(opName, c.RetryConfig.Policy(), converge.WithLogger(c.logger()))
	if err != nil {
		return err
	}
	return scheduler.SubmitWithRetry(ctx, func(ctx context.Context) converge.SubmissionOutcome {
		return classify(operation(ctx))
	})
}

// NewClient authenticates with the configured clouds.yaml profile and
// initialises the Block Storage (Cinder) v3 client.
func (c *Client) NewClient(ctx context.Context) error {
	c.logger().Debug("Initializing OpenStack client", "profile", c.ProfileName)

	var provider *gophercloud.ProviderClient

	authenticateOperation := func(ctx context.Context) error {
		opts := &clientconfig.ClientOpts{
			Cloud: c.ProfileName,
		}

		p, err := clientconfig.AuthenticatedClient(ctx, opts)
		if err != nil {
			return err
		}

		provider = p
		return nil
	}

	if err := c.executeWithRetry(ctx, "OpenStack Authentication", authenticateOperation); err != nil {
		return fmt.Errorf("authentication failed for profile '%s': %w", c.ProfileName, err)
	}

	cloudConfig, err := clientconfig.GetCloudFromYAML(&clientconfig.ClientOpts{Cloud: c.ProfileName})
	if err != nil {
		return fmt.Errorf("failed to parse cloud config: %w", err)
	}

	blockStorage, err := openstack.NewBlockStorageV3(provider, gophercloud.EndpointOpts{
		Availability: endpointAvailability(cloudConfig.EndpointType),
		Region:       cloudConfig.RegionName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Block Storage v3 client: %w", err)
	}

	c.BlockStorageClient = blockStorage
	return nil
}

// endpointAvailability maps the clouds.yaml interface/endpoint_type value
// onto a catalog availability. Both the short ("internal") and the
// keystone catalog ("internalURL") spellings are accepted; anything else
// selects the public endpoint.
func endpointAvailability(endpointType string) gophercloud.Availability {
	switch strings.TrimSuffix(strings.ToLower(endpointType), "url") {
	case "internal":
		return gophercloud.AvailabilityInternal
	case "admin":
		return gophercloud.AvailabilityAdmin
	default:
		return gophercloud.AvailabilityPublic
	}
}
