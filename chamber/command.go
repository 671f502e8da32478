package chamber

// Inbound command names. Every recognized command resolves to exactly one
// success or error completion.
const (
	// CommandInitialize requests confirmation that the controller reached its
	// operational baseline; initialization itself starts on the first cycle.
	CommandInitialize = "initialize"
	// CommandBlockForClient locks the service gate, isolating the chamber from
	// the external actor.
	CommandBlockForClient = "block_for_client"
	// CommandUnblockForClient unlocks the service gate for the external actor.
	CommandUnblockForClient = "unblock_for_client"
	// CommandBlockChamber hands the open chamber to the production mechanism
	// for a transfer.
	CommandBlockChamber = "block_chamber"
	// CommandUnblockChamber takes the chamber back from the production
	// mechanism.
	CommandUnblockChamber = "unblock_chamber"
	// CommandPartitionUp raises the internal partition.
	CommandPartitionUp = "partition_up"
	// CommandPartitionDown lowers the internal partition.
	CommandPartitionDown = "partition_down"
	// CommandMaintenanceEnable suspends interlock logic for servicing. It
	// pre-empts every state except the maintenance states themselves.
	CommandMaintenanceEnable = "maintenance_enable"
	// CommandMaintenanceDisable restores a safe posture and resumes interlock
	// logic.
	CommandMaintenanceDisable = "maintenance_disable"
)

// commandVocabulary holds every recognized command name.
var commandVocabulary = map[string]struct{}{
	CommandInitialize:         {},
	CommandBlockForClient:     {},
	CommandUnblockForClient:   {},
	CommandBlockChamber:       {},
	CommandUnblockChamber:     {},
	CommandPartitionUp:        {},
	CommandPartitionDown:      {},
	CommandMaintenanceEnable:  {},
	CommandMaintenanceDisable: {},
}

// IsCommand reports whether name is a recognized command.
func IsCommand(name string) bool {
	_, ok := commandVocabulary[name]
	return ok
}

// Commands returns the recognized command names in a stable order.
func Commands() []string {
	return []string{
		CommandInitialize,
		CommandBlockForClient,
		CommandUnblockForClient,
		CommandBlockChamber,
		CommandUnblockChamber,
		CommandPartitionUp,
		CommandPartitionDown,
		CommandMaintenanceEnable,
		CommandMaintenanceDisable,
	}
}

// QueryChamberOpen answers whether the service gate is currently open.
// Presence sensors are queried as "is_" + the configured signal name, for
// example "is_product_present".
const QueryChamberOpen = "is_chamber_open"

// QueryUnknownAnswer is the sentinel returned for unrecognized queries.
const QueryUnknownAnswer = -1
