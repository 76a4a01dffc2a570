package zigbee

import "fmt"

// Cluster identifiers used by the bridge.
const (
	ClusterBasic              uint16 = 0x0000
	ClusterPowerConfiguration uint16 = 0x0001
	ClusterIdentify           uint16 = 0x0003
	ClusterGroups             uint16 = 0x0004
	ClusterScenes             uint16 = 0x0005
	ClusterOnOff              uint16 = 0x0006
	ClusterLevelControl       uint16 = 0x0008
	ClusterTemperature        uint16 = 0x0402
	ClusterHumidity           uint16 = 0x0405
	ClusterOccupancy          uint16 = 0x0406
	ClusterIASZone            uint16 = 0x0500
	ClusterSimpleMetering     uint16 = 0x0702
)

// Cluster type names. Registry lookups are keyed by these.
const (
	ClusterNameBasic          = "Basic"
	ClusterNameOnOff          = "On/Off"
	ClusterNameIASZone        = "IAS Zone"
	ClusterNameSimpleMetering = "Simple Metering"
)

// ProfileHomeAutomation is the Zigbee Home Automation application profile.
const ProfileHomeAutomation uint16 = 0x0104

// ClusterDef describes a ZCL cluster: its display name, named attributes,
// and named client-to-server commands.
type ClusterDef struct {
	ID         uint16
	Name       string
	Attributes map[string]uint16
	Commands   map[string]uint8
}

// AttributeID resolves an attribute name.
func (d ClusterDef) AttributeID(name string) (uint16, error) {
	id, ok := d.Attributes[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, d.Name, name)
	}
	return id, nil
}

// AttributeName resolves an attribute id, falling back to hex.
func (d ClusterDef) AttributeName(id uint16) string {
	for name, v := range d.Attributes {
		if v == id {
			return name
		}
	}
	return fmt.Sprintf("0x%04x", id)
}

// CommandID resolves a command name.
func (d ClusterDef) CommandID(name string) (uint8, error) {
	id, ok := d.Commands[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownCommand, d.Name, name)
	}
	return id, nil
}

// clusterCatalogue holds the clusters the bridge can name.
var clusterCatalogue = map[uint16]ClusterDef{
	ClusterBasic: {
		ID:   ClusterBasic,
		Name: ClusterNameBasic,
		Attributes: map[string]uint16{
			"ZCLVersion":         0x0000,
			"ApplicationVersion": 0x0001,
			"ManufacturerName":   0x0004,
			"ModelIdentifier":    0x0005,
			"DateCode":           0x0006,
			"PowerSource":        0x0007,
		},
	},
	ClusterPowerConfiguration: {
		ID:   ClusterPowerConfiguration,
		Name: "Power Configuration",
		Attributes: map[string]uint16{
			"BatteryVoltage":             0x0020,
			"BatteryPercentageRemaining": 0x0021,
		},
	},
	ClusterIdentify: {
		ID:         ClusterIdentify,
		Name:       "Identify",
		Attributes: map[string]uint16{"IdentifyTime": 0x0000},
		Commands:   map[string]uint8{"Identify": 0x00},
	},
	ClusterGroups: {ID: ClusterGroups, Name: "Groups"},
	ClusterScenes: {ID: ClusterScenes, Name: "Scenes"},
	ClusterOnOff: {
		ID:         ClusterOnOff,
		Name:       ClusterNameOnOff,
		Attributes: map[string]uint16{"OnOff": 0x0000},
		Commands:   map[string]uint8{"Off": 0x00, "On": 0x01, "Toggle": 0x02},
	},
	ClusterLevelControl: {
		ID:         ClusterLevelControl,
		Name:       "Level Control",
		Attributes: map[string]uint16{"CurrentLevel": 0x0000},
	},
	ClusterTemperature: {
		ID:         ClusterTemperature,
		Name:       "Temperature Measurement",
		Attributes: map[string]uint16{"MeasuredValue": 0x0000},
	},
	ClusterHumidity: {
		ID:         ClusterHumidity,
		Name:       "Relative Humidity",
		Attributes: map[string]uint16{"MeasuredValue": 0x0000},
	},
	ClusterOccupancy: {
		ID:         ClusterOccupancy,
		Name:       "Occupancy Sensing",
		Attributes: map[string]uint16{"Occupancy": 0x0000},
	},
	ClusterIASZone: {
		ID:   ClusterIASZone,
		Name: ClusterNameIASZone,
		Attributes: map[string]uint16{
			"ZoneState":       0x0000,
			"ZoneType":        0x0001,
			"ZoneStatus":      0x0002,
			"IAS_CIE_Address": 0x0010,
			"ZoneID":          0x0011,
		},
		Commands: map[string]uint8{"ZoneEnrollResponse": 0x00},
	},
	ClusterSimpleMetering: {
		ID:   ClusterSimpleMetering,
		Name: ClusterNameSimpleMetering,
		Attributes: map[string]uint16{
			"CurrentSummationDelivered": 0x0000,
			"InstantaneousDemand":       0x0400,
		},
	},
}

// IAS Zone server-to-client command identifiers.
const (
	zoneStatusChangeNotification uint8 = 0x00
	zoneEnrollRequest            uint8 = 0x01
)

// LookupCluster returns the definition for a cluster id.
//
// Unknown ids get a synthetic definition named "Unknown(0xNNNN)" with no
// attributes or commands, so they still flow through the registry and are
// reported as unrecognized.
func LookupCluster(id uint16) ClusterDef {
	if def, ok := clusterCatalogue[id]; ok {
		return def
	}
	return ClusterDef{ID: id, Name: fmt.Sprintf("Unknown(0x%04x)", id)}
}
