package openwebnet

import "strconv"

// AddressKind tags the shape of an Address value (spec §3 data model).
type AddressKind int

const (
	AddressUnknown AddressKind = iota
	NitooDevice
	NitooUnit
	ZigbeeAllDevicesAllUnits
	ZigbeeAllDevicesSpecificUnit
	ZigbeeSpecificDeviceAllUnits
	ZigbeeSpecificDeviceSpecificUnit
	ScsLightPointPointToPoint
	ScsLightPointGroup
	ScsLightPointArea
	ScsLightPointGeneral
)

func (k AddressKind) String() string {
	switch k {
	case NitooDevice:
		return "nitoo-device"
	case NitooUnit:
		return "nitoo-unit"
	case ZigbeeAllDevicesAllUnits:
		return "zigbee-all-devices-all-units"
	case ZigbeeAllDevicesSpecificUnit:
		return "zigbee-all-devices-specific-unit"
	case ZigbeeSpecificDeviceAllUnits:
		return "zigbee-specific-device-all-units"
	case ZigbeeSpecificDeviceSpecificUnit:
		return "zigbee-specific-device-specific-unit"
	case ScsLightPointPointToPoint:
		return "scs-point-to-point"
	case ScsLightPointGroup:
		return "scs-group"
	case ScsLightPointArea:
		return "scs-area"
	case ScsLightPointGeneral:
		return "scs-general"
	default:
		return "unknown"
	}
}

// Address is a tagged variant over the WHERE field addressing schemes used
// by the three protocol flavors. The zero value is AddressUnknown.
type Address struct {
	Kind AddressKind

	// DeviceID / UnitID identify a Nitoo device/unit (NitooDevice, NitooUnit).
	DeviceID string
	UnitID   string

	// ZigbeeDevice / ZigbeeUnit identify a Zigbee network address; "0" in
	// either means "all" for that axis.
	ZigbeeDevice string
	ZigbeeUnit   string

	// ScsValue carries the raw numeric WHERE value for point-to-point and
	// area addresses (e.g. "21" for point 2 line 1, or "3" for area 3).
	ScsValue string

	// ScsGroup carries the group number for ScsLightPointGroup addresses.
	ScsGroup string
}

// Broadcast reports whether this address denotes more than one endpoint
// (used by the send state machine to pick unique vs multiple reply-collection
// timeouts, spec §4.5 stage 4).
func (a Address) Broadcast() bool {
	switch a.Kind {
	case ScsLightPointGroup, ScsLightPointArea, ScsLightPointGeneral,
		ZigbeeAllDevicesAllUnits, ZigbeeAllDevicesSpecificUnit, ZigbeeSpecificDeviceAllUnits:
		return true
	default:
		return false
	}
}

// InScope reports whether reply's address falls within request's addressing
// scope, used by the reply-matching rule in spec §4.5 ("the request is
// broadcast and the reply's address is in the request's scope").
func (req Address) InScope(reply Address) bool {
	if req.Equal(reply) {
		return true
	}
	if !req.Broadcast() {
		return false
	}
	switch req.Kind {
	case ScsLightPointGeneral:
		return reply.Kind == ScsLightPointPointToPoint || reply.Kind == ScsLightPointArea || reply.Kind == ScsLightPointGroup
	case ScsLightPointArea:
		// The area code is the leading digit(s) of a point-to-point WHERE
		// value (e.g. area "3" matches "31"; area "10" matches "101"), so
		// the comparison has to slice by the area code's own length to also
		// catch the two-digit "10" area rather than always taking 1 byte.
		areaLen := len(req.ScsValue)
		return reply.Kind == ScsLightPointPointToPoint && len(reply.ScsValue) > areaLen &&
			reply.ScsValue[:areaLen] == req.ScsValue
	case ScsLightPointGroup:
		// Membership in a group is catalog data we don't have here; treat any
		// point-to-point reply as potentially in scope and let the caller's
		// WHO/DIM equality plus quiescence timeout bound the collection.
		return reply.Kind == ScsLightPointPointToPoint
	case ZigbeeAllDevicesAllUnits:
		return reply.Kind == ZigbeeSpecificDeviceSpecificUnit || reply.Kind == ZigbeeSpecificDeviceAllUnits || reply.Kind == ZigbeeAllDevicesSpecificUnit
	case ZigbeeAllDevicesSpecificUnit:
		return reply.Kind == ZigbeeSpecificDeviceSpecificUnit && reply.ZigbeeUnit == req.ZigbeeUnit
	case ZigbeeSpecificDeviceAllUnits:
		return reply.Kind == ZigbeeSpecificDeviceSpecificUnit && reply.ZigbeeDevice == req.ZigbeeDevice
	default:
		return false
	}
}

// Equal reports whether two addresses denote the exact same endpoint.
func (a Address) Equal(o Address) bool {
	return a == o
}

func (a Address) field() []string {
	switch a.Kind {
	case ScsLightPointGeneral:
		return field("0")
	case ScsLightPointArea:
		return field(a.ScsValue)
	case ScsLightPointGroup:
		return field("", "4", a.ScsGroup)
	case ScsLightPointPointToPoint:
		return field(a.ScsValue)
	case NitooDevice:
		return field(a.DeviceID)
	case NitooUnit:
		return field(a.DeviceID, a.UnitID)
	case ZigbeeAllDevicesAllUnits:
		return field("0", "9", "0")
	case ZigbeeAllDevicesSpecificUnit:
		return field("0", "9", a.ZigbeeUnit)
	case ZigbeeSpecificDeviceAllUnits:
		return field(a.ZigbeeDevice, "9", "0")
	case ZigbeeSpecificDeviceSpecificUnit:
		return field(a.ZigbeeDevice, "9", a.ZigbeeUnit)
	default:
		return nil
	}
}

// parseAddress decodes a WHERE field (already split into parameters) into an
// Address for the given protocol. Unrecognized shapes return AddressUnknown
// rather than failing the whole frame (spec §4.2: "Unknown shapes map to
// Unknown without failure").
func parseAddress(proto Protocol, where []string) Address {
	switch proto {
	case Nitoo:
		switch len(where) {
		case 1:
			return Address{Kind: NitooDevice, DeviceID: where[0]}
		case 2:
			return Address{Kind: NitooUnit, DeviceID: where[0], UnitID: where[1]}
		}
	case Zigbee:
		if len(where) == 3 && where[1] == "9" {
			dev, unit := where[0], where[2]
			switch {
			case dev == "0" && unit == "0":
				return Address{Kind: ZigbeeAllDevicesAllUnits}
			case dev == "0":
				return Address{Kind: ZigbeeAllDevicesSpecificUnit, ZigbeeUnit: unit}
			case unit == "0":
				return Address{Kind: ZigbeeSpecificDeviceAllUnits, ZigbeeDevice: dev}
			default:
				return Address{Kind: ZigbeeSpecificDeviceSpecificUnit, ZigbeeDevice: dev, ZigbeeUnit: unit}
			}
		}
	case Scs:
		switch {
		case len(where) == 1 && where[0] == "0":
			return Address{Kind: ScsLightPointGeneral}
		case len(where) == 3 && where[0] == "" && where[1] == "4":
			return Address{Kind: ScsLightPointGroup, ScsGroup: where[2]}
		case len(where) == 1 && isShortArea(where[0]):
			return Address{Kind: ScsLightPointArea, ScsValue: where[0]}
		case len(where) == 1:
			return Address{Kind: ScsLightPointPointToPoint, ScsValue: where[0]}
		}
	}
	return Address{Kind: AddressUnknown}
}

// isShortArea reports whether a bare numeric WHERE value reads as an SCS
// area (single digit 1-9, or "10") rather than a longer point-to-point
// address.
func isShortArea(v string) bool {
	if v == "" {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return false
	}
	return (len(v) == 1 && n >= 1 && n <= 9) || v == "10"
}
