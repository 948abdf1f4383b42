package azure

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	azcloud "github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
)

// Client talks to the Azure Resource Manager network provider.
type Client struct {
	SubscriptionID string
	Logger         *slog.Logger

	interfaces    *armnetwork.InterfacesClient
	loadBalancers *armnetwork.LoadBalancersClient
}

type clientOptions struct {
	credential azcore.TokenCredential
	transport  policy.Transporter
	logger     *slog.Logger
	sdkRetries int32
}

// ClientOption customises NewClient.
type ClientOption func(*clientOptions)

// WithCredential skips credential construction from the service principal.
func WithCredential(cred azcore.TokenCredential) ClientOption {
	return func(o *clientOptions) { o.credential = cred }
}

// WithTransport replaces the HTTP transport of the ARM pipeline.
func WithTransport(t policy.Transporter) ClientOption {
	return func(o *clientOptions) { o.transport = t }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// WithSDKRetries enables the SDK's own retry policy. It is disabled by
// default because throttling is retried by the convergence scheduler.
func WithSDKRetries(n int32) ClientOption {
	return func(o *clientOptions) { o.sdkRetries = n }
}

// GetCloudProviderName returns the identifier for this provider.
func (c *Client) GetCloudProviderName() string {
	return "azure"
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// cloudConfiguration returns the public cloud unless the service principal
// points at a different Resource Manager or authority endpoint.
func cloudConfiguration(sp cloud.ServicePrincipal) azcloud.Configuration {
	conf := azcloud.AzurePublic
	if sp.BaseURL == "" && sp.AuthorityHost == "" {
		return conf
	}

	rm := conf.Services[azcloud.ResourceManager]
	if sp.BaseURL != "" {
		endpoint := strings.TrimSuffix(sp.BaseURL, "/")
		rm = azcloud.ServiceConfiguration{Audience: endpoint, Endpoint: endpoint}
	}

	custom := azcloud.Configuration{
		ActiveDirectoryAuthorityHost: conf.ActiveDirectoryAuthorityHost,
		Services:                     map[azcloud.ServiceName]azcloud.ServiceConfiguration{azcloud.ResourceManager: rm},
	}
	if sp.AuthorityHost != "" {
		custom.ActiveDirectoryAuthorityHost = sp.AuthorityHost
	}
	return custom
}

// credential builds a client secret credential, falling back to the Azure CLI
// login when no secret is configured.
func credential(sp cloud.ServicePrincipal, opts policy.ClientOptions) (azcore.TokenCredential, error) {
	if sp.ClientSecret == "" {
		cred, err := azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: sp.TenantID})
		if err != nil {
			return nil, fmt.Errorf("error creating Azure CLI credentials: %w", err)
		}
		return cred, nil
	}

	cred, err := azidentity.NewClientSecretCredential(sp.TenantID, sp.ClientID, sp.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: opts})
	if err != nil {
		return nil, fmt.Errorf("error creating credentials from a secret: %w", err)
	}
	return cred, nil
}

// NewClient builds the network clients for the service principal's subscription.
func NewClient(sp cloud.ServicePrincipal, opts ...ClientOption) (*Client, error) {
	o := clientOptions{sdkRetries: -1}
	for _, opt := range opts {
		opt(&o)
	}

	if sp.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}

	clientOpts := policy.ClientOptions{
		Cloud: cloudConfiguration(sp),
		Retry: policy.RetryOptions{MaxRetries: o.sdkRetries},
	}
	if o.transport != nil {
		clientOpts.Transport = o.transport
	}

	cred := o.credential
	if cred == nil {
		var err error
		if cred, err = credential(sp, clientOpts); err != nil {
			return nil, err
		}
	}

	armOpts := &arm.ClientOptions{ClientOptions: clientOpts}

	interfaces, err := armnetwork.NewInterfacesClient(sp.SubscriptionID, cred, armOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize network interfaces client: %w", err)
	}

	loadBalancers, err := armnetwork.NewLoadBalancersClient(sp.SubscriptionID, cred, armOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize load balancers client: %w", err)
	}

	return &Client{
		SubscriptionID: sp.SubscriptionID,
		Logger:         o.logger,
		interfaces:     interfaces,
		loadBalancers:  loadBalancers,
	}, nil
}
