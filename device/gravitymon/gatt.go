package gravitymon

// 16-bit UUIDs advertised or exposed by gravitymon devices.
const (
  // Eddystone service data carrying the binary frame.
  EddystoneServiceUUID uint16 = 0xfeaa

  // Service data of this service holds the ext beacon JSON; the same service exposes
  // DataCharacteristicUUID when connected.
  DataServiceUUID uint16 = 0x180a
  DataCharacteristicUUID uint16 = 0x2ac4

  // Service data of this service equals ExtBeaconMarker on devices sending JSON in
  // their advertisement.
  MarkerServiceUUID uint16 = 0x1801
)

const ExtBeaconMarker = "gravitymon_ext"
