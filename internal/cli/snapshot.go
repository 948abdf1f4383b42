package cli

import (
	"fmt"

	"github.com/microsoft/azure-pipelines-tasks-sub022/internal/config"
	"github.com/spf13/cobra"
)

// Flags for snapshot sub-commands
var (
	volumeID         string
	snapshotName     string
	snapshotMetadata map[string]string
)

var snapshotCommand = &cobra.Command{
	Use:     "snapshot",
	Short:   "Manage OpenStack volume snapshots",
	GroupID: "converge",
}

var snapshotCreateCommand = &cobra.Command{
	Use:   "create",
	Short: "Creates a volume snapshot and waits until it is available",
	Long:  `Creates a Cinder snapshot of the volume and polls it until it reaches the available status. A snapshot left behind by a failed attempt is deleted before the next one is created.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("convergectl - Snapshot"))

		cfg, err := loadWith(config.OperationSpec{
			Provider:     config.ProviderOpenStack,
			VolumeID:     volumeID,
			SnapshotName: snapshotName,
			Metadata:     snapshotMetadata,
		})
		if err != nil {
			return err
		}
		return execute(cmd, cfg, "snapshot")
	},
}

func init() {
	rootCommand.AddCommand(snapshotCommand)
	snapshotCommand.AddCommand(snapshotCreateCommand)

	snapshotCommand.PersistentFlags().String("cloud", "", "Name of the cloud profile as in clouds.yaml")
	bindFlag(snapshotCommand, "openstack.cloud", "cloud")

	snapshotCreateCommand.Flags().StringVar(&volumeID, "volume-id", "", "The ID of the volume to snapshot (required)")
	snapshotCreateCommand.Flags().StringVar(&snapshotName, "name", "", "Snapshot name (required)")
	snapshotCreateCommand.Flags().StringToStringVar(&snapshotMetadata, "metadata", nil, "Extra snapshot metadata as key=value pairs")
	_ = snapshotCreateCommand.MarkFlagRequired("volume-id")
	_ = snapshotCreateCommand.MarkFlagRequired("name")
}
