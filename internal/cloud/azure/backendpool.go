package azure

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/cloud"
	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/converge"
)

// Action is the membership change applied to a network interface.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// ParseAction accepts "add"/"connect" and "remove"/"disconnect".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "add", "connect":
		return ActionAdd, nil
	case "remove", "disconnect":
		return ActionRemove, nil
	default:
		return "", fmt.Errorf("unknown action %q; expected add or remove", s)
	}
}

// BackendPoolRequest is the payload of a backend pool membership operation.
type BackendPoolRequest struct {
	Action           Action
	ResourceGroup    string
	LoadBalancer     string
	NetworkInterface string
	// Pools restricts the change to the named backend pools. Empty means every pool of the load balancer.
	Pools []string
}

// ID identifies the request in logs and errors.
func (r BackendPoolRequest) ID() string {
	return fmt.Sprintf("%s/%s/%s", r.ResourceGroup, r.LoadBalancer, r.NetworkInterface)
}

// targetPools returns the IDs of the load balancer pools the request applies to.
func targetPools(lb armnetwork.LoadBalancer, names []string) ([]string, error) {
	if lb.Properties == nil || len(lb.Properties.BackendAddressPools) == 0 {
		return nil, fmt.Errorf("load balancer has no backend address pools")
	}

	var ids []string
	for _, pool := range lb.Properties.BackendAddressPools {
		if pool == nil || pool.ID == nil {
			continue
		}
		if len(names) > 0 && (pool.Name == nil || !slices.ContainsFunc(names, func(n string) bool {
			return strings.EqualFold(n, *pool.Name)
		})) {
			continue
		}
		ids = append(ids, *pool.ID)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("none of the backend pools %v exist on the load balancer", names)
	}
	return ids, nil
}

// primaryIPConfiguration returns the NIC's primary IP configuration, or its
// only one when none is flagged primary.
func primaryIPConfiguration(iface *armnetwork.Interface) (*armnetwork.InterfaceIPConfiguration, error) {
	if iface.Properties == nil || len(iface.Properties.IPConfigurations) == 0 {
		return nil, fmt.Errorf("network interface has no IP configurations")
	}

	configs := iface.Properties.IPConfigurations
	for _, cfg := range configs {
		if cfg != nil && cfg.Properties != nil && cfg.Properties.Primary != nil && *cfg.Properties.Primary {
			return cfg, nil
		}
	}
	if len(configs) == 1 && configs[0] != nil {
		return configs[0], nil
	}
	return nil, fmt.Errorf("network interface has %d IP configurations and none is primary", len(configs))
}

// applyPools edits the primary IP configuration of iface in place and reports
// whether anything changed.
func applyPools(iface *armnetwork.Interface, action Action, poolIDs []string) (bool, error) {
	cfg, err := primaryIPConfiguration(iface)
	if err != nil {
		return false, err
	}
	if cfg.Properties == nil {
		cfg.Properties = &armnetwork.InterfaceIPConfigurationPropertiesFormat{}
	}

	current := cfg.Properties.LoadBalancerBackendAddressPools
	has := func(id string) bool {
		return slices.ContainsFunc(current, func(p *armnetwork.BackendAddressPool) bool {
			return p != nil && p.ID != nil && strings.EqualFold(*p.ID, id)
		})
	}

	switch action {
	case ActionAdd:
		changed := false
		for _, id := range poolIDs {
			if !has(id) {
				current = append(current, &armnetwork.BackendAddressPool{ID: to.Ptr(id)})
				changed = true
			}
		}
		cfg.Properties.LoadBalancerBackendAddressPools = current
		return changed, nil

	case ActionRemove:
		kept := make([]*armnetwork.BackendAddressPool, 0, len(current))
		for _, p := range current {
			if p != nil && p.ID != nil && slices.ContainsFunc(poolIDs, func(id string) bool {
				return strings.EqualFold(id, *p.ID)
			}) {
				continue
			}
			kept = append(kept, p)
		}
		cfg.Properties.LoadBalancerBackendAddressPools = kept
		return len(kept) != len(current), nil

	default:
		return false, fmt.Errorf("unknown action %q", action)
	}
}

// BackendPoolOperation prepares a change of a network interface's membership
// in the backend pools of a load balancer.
//
// Submit reads the load balancer and the NIC, edits the NIC's primary IP
// configuration and sends it back with a PUT. It does not wait on the SDK's
// long running operation poller; convergence is read from the NIC's
// provisioning state by Status. When the NIC already has the desired
// membership no PUT is sent.
func (c *Client) BackendPoolOperation(req BackendPoolRequest) cloud.Operation {
	log := c.logger().With(
		"resource_group", req.ResourceGroup,
		"load_balancer", req.LoadBalancer,
		"network_interface", req.NetworkInterface,
		"action", string(req.Action))

	submit := func(ctx context.Context) converge.SubmissionOutcome {
		lb, err := c.loadBalancers.Get(ctx, req.ResourceGroup, req.LoadBalancer, nil)
		if err != nil {
			return classify(fmt.Errorf("failed to get load balancer %s: %w", req.LoadBalancer, err))
		}

		poolIDs, err := targetPools(lb.LoadBalancer, req.Pools)
		if err != nil {
			return converge.Fatal(fmt.Errorf("load balancer %s: %w", req.LoadBalancer, err))
		}

		nic, err := c.interfaces.Get(ctx, req.ResourceGroup, req.NetworkInterface, nil)
		if err != nil {
			return classify(fmt.Errorf("failed to get network interface %s: %w", req.NetworkInterface, err))
		}

		changed, err := applyPools(&nic.Interface, req.Action, poolIDs)
		if err != nil {
			return converge.Fatal(fmt.Errorf("network interface %s: %w", req.NetworkInterface, err))
		}
		if !changed {
			log.Info("Network interface already has the requested backend pool membership")
			return converge.Success()
		}

		if _, err := c.interfaces.BeginCreateOrUpdate(ctx, req.ResourceGroup, req.NetworkInterface, nic.Interface, nil); err != nil {
			return classify(fmt.Errorf("failed to update network interface %s: %w", req.NetworkInterface, err))
		}

		log.Info("Network interface update accepted", "pools", len(poolIDs))
		return converge.Success()
	}

	status := func(ctx context.Context) (converge.Status, error) {
		nic, err := c.interfaces.Get(ctx, req.ResourceGroup, req.NetworkInterface, nil)
		if err != nil {
			return converge.Status{}, fmt.Errorf("failed to get network interface %s: %w", req.NetworkInterface, err)
		}
		return provisioningStatus(nic.Interface), nil
	}

	return cloud.Operation{
		Provider: c.GetCloudProviderName(),
		Request:  converge.OperationRequest{ID: req.ID(), Payload: req},
		Submit:   submit,
		Status:   status,
	}
}
