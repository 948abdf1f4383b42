package cli

import (
	"fmt"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/spf13/cobra"
)

// Flags for nlb sub-commands
var (
	resourceGroup     string
	loadBalancer      string
	networkInterfaces []string
	backendPools      []string
)

var nlbCommand = &cobra.Command{
	Use:     "nlb",
	Short:   "Manage Azure load balancer backend pool membership",
	Long:    `Adds network interfaces to, or removes them from, the backend pools of an Azure load balancer and waits until each interface reports a Succeeded provisioning state.`,
	GroupID: "converge",
}

func nlbAction(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("Runs the %s backend pool operation for each network interface", action),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(headerStyle.Render(fmt.Sprintf("convergectl - Load Balancer %s", action)))

			cfg, err := loadWith(config.OperationSpec{
				Provider:          config.ProviderAzure,
				Action:            action,
				ResourceGroup:     resourceGroup,
				LoadBalancer:      loadBalancer,
				NetworkInterfaces: networkInterfaces,
				Pools:             backendPools,
			})
			if err != nil {
				return err
			}
			return execute(cmd, cfg, "nlb")
		},
	}
}

func init() {
	rootCommand.AddCommand(nlbCommand)

	flags := nlbCommand.PersistentFlags()
	flags.StringVar(&resourceGroup, "resource-group", "", "Resource group of the load balancer and network interfaces (required)")
	flags.StringVar(&loadBalancer, "load-balancer", "", "Load balancer name (required)")
	flags.StringArrayVar(&networkInterfaces, "nic", nil, "Network interface name, repeatable (required)")
	flags.StringSliceVar(&backendPools, "pool", nil, "Restrict the change to these backend pools (default: all)")
	_ = nlbCommand.MarkPersistentFlagRequired("resource-group")
	_ = nlbCommand.MarkPersistentFlagRequired("load-balancer")
	_ = nlbCommand.MarkPersistentFlagRequired("nic")

	flags.String("subscription-id", "", "Azure subscription id")
	flags.String("tenant-id", "", "Entra ID tenant id")
	flags.String("client-id", "", "Service principal client id")
	flags.String("client-secret", "", "Service principal secret (empty = Azure CLI credential)")
	flags.String("arm-base-url", "", "Resource Manager endpoint override")
	flags.String("authority-host", "", "Entra ID authority host override")
	for key, flag := range map[string]string{
		"azure.subscription_id": "subscription-id",
		"azure.tenant_id":       "tenant-id",
		"azure.client_id":       "client-id",
		"azure.client_secret":   "client-secret",
		"azure.base_url":        "arm-base-url",
		"azure.authority_host":  "authority-host",
	} {
		bindFlag(nlbCommand, key, flag)
	}

	nlbCommand.AddCommand(nlbAction("add"), nlbAction("remove"))
}
