package model

import "fmt"

// UploadTarget is one of the public databases records are shipped to.
type UploadTarget int

const (
	TargetOpenCelliD UploadTarget = iota
	TargetBeaconDB
)

// TargetCount is the number of upload targets.
const TargetCount = 2

// Targets lists every upload target in a fixed order.
func Targets() []UploadTarget {
	return []UploadTarget{TargetOpenCelliD, TargetBeaconDB}
}

func (t UploadTarget) String() string {
	switch t {
	case TargetOpenCelliD:
		return "opencellid"
	case TargetBeaconDB:
		return "beacondb"
	default:
		return fmt.Sprintf("UploadTarget(%d)", int(t))
	}
}

// DisplayName is the human readable name used in user-facing messages.
func (t UploadTarget) DisplayName() string {
	switch t {
	case TargetOpenCelliD:
		return "OpenCelliD"
	case TargetBeaconDB:
		return "BeaconDB"
	default:
		return t.String()
	}
}

// MarshalText encodes the target as its lowercase name so it can key JSON maps.
func (t UploadTarget) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *UploadTarget) UnmarshalText(b []byte) error {
	for _, candidate := range Targets() {
		if candidate.String() == string(b) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown upload target %q", string(b))
}
