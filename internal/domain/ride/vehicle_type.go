package ride

import (
	"errors"
	"strings"
)

// VehicleType is the requested vehicle class for a ride.
type VehicleType string

const (
	VehicleEconomy VehicleType = "ECONOMY"
	VehiclePremium VehicleType = "PREMIUM"
	VehicleXL      VehicleType = "XL"
)

var ErrInvalidVehicleType = errors.New("invalid vehicle type")

// ParseVehicleType normalizes (uppercases+trims) and validates a vehicle type string.
func ParseVehicleType(in string) (VehicleType, error) {
	vt := VehicleType(strings.ToUpper(strings.TrimSpace(in)))
	if vt.Valid() {
		return vt, nil
	}
	return "", ErrInvalidVehicleType
}

// Valid reports whether the vehicle type is one of the allowed constants.
func (vt VehicleType) Valid() bool {
	switch vt {
	case VehicleEconomy, VehiclePremium, VehicleXL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the VehicleType.
func (vt VehicleType) String() string {
	return string(vt)
}
