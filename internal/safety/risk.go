package safety

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel is an ordered severity scale. Higher values are worse, so two
// assessments combine by taking the maximum.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r *RiskLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "low":
		*r = RiskLow
	case "medium":
		*r = RiskMedium
	case "high":
		*r = RiskHigh
	case "critical":
		*r = RiskCritical
	default:
		return fmt.Errorf("unknown risk level %q", s)
	}
	return nil
}

// MaxLevel combines two assessments, e.g. the user input verdict and the
// generated response verdict.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}
