package enums

import "fmt"

// ServiceClass names the delivery service tiers offered by the carrier.
type ServiceClass string

const (
	ServiceClassCourier ServiceClass = "courier"
	ServiceClassExpress ServiceClass = "express"
	ServiceClassCargo   ServiceClass = "cargo"
)

var validServiceClasses = []ServiceClass{
	ServiceClassCourier,
	ServiceClassExpress,
	ServiceClassCargo,
}

// String implements fmt.Stringer.
func (s ServiceClass) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ServiceClass.
func (s ServiceClass) IsValid() bool {
	for _, candidate := range validServiceClasses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseServiceClass converts raw input into a ServiceClass.
func ParseServiceClass(value string) (ServiceClass, error) {
	for _, candidate := range validServiceClasses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid service class %q", value)
}
