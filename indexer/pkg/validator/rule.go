package validator

import (
	"errors"
	"fmt"
	"strings"
)

// Rule describes a monitored attribute of a dataset.
type Rule struct {
	// Dataset holds the rows to compare.
	Dataset string `yaml:"dataset" json:"dataset"`

	// IdentifierColumns name an entity across snapshots.
	IdentifierColumns []string `yaml:"identifier_columns" json:"identifier_columns"`

	// ContextColumns are reported alongside a transition and used to pair
	// rows when an entity has several rows per snapshot.
	ContextColumns []string `yaml:"context_columns" json:"context_columns"`

	// ValidationColumn is the monitored attribute.
	ValidationColumn string `yaml:"validation_column" json:"validation_column"`

	// TimestampSource is the dataset whose snapshots define each entity's
	// first and last timestamp. Empty means Dataset.
	TimestampSource string `yaml:"timestamp_source" json:"timestamp_source,omitempty"`

	// FromValue, when set, limits reports to entities whose original value
	// equals it, e.g. devices that were "online".
	FromValue any `yaml:"from_value" json:"from_value,omitempty"`
}

func (r *Rule) Validate() error {
	if r.Dataset == "" {
		return errors.New("dataset is required")
	}
	if len(r.IdentifierColumns) == 0 {
		return errors.New("at least one identifier column is required")
	}
	if r.ValidationColumn == "" {
		return errors.New("validation column is required")
	}
	for _, c := range r.IdentifierColumns {
		if strings.EqualFold(c, r.ValidationColumn) {
			return fmt.Errorf("validation column %s cannot also identify the entity", c)
		}
	}
	return nil
}

func (r *Rule) timestampSource() string {
	if r.TimestampSource != "" {
		return r.TimestampSource
	}
	return r.Dataset
}

// selectedColumns returns identifier, context and validation columns with
// duplicates removed, in that order.
func (r *Rule) selectedColumns() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, group := range [][]string{r.IdentifierColumns, r.ContextColumns, {r.ValidationColumn}} {
		for _, c := range group {
			key := strings.ToLower(c)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s.%s", r.Dataset, r.ValidationColumn)
}

// DefaultRules returns the transitions watched out of the box: Meraki device
// status and BIG-IP pool, pool member and virtual server availability.
func DefaultRules() []Rule {
	return []Rule{
		{
			Dataset:           "meraki_org_device_statuses",
			IdentifierColumns: []string{"orgId", "serial"},
			ContextColumns:    []string{"name", "networkId"},
			ValidationColumn:  "status",
			FromValue:         "online",
		},
		{
			Dataset:           "bigip_pool_availability",
			IdentifierColumns: []string{"device", "partition", "pool"},
			ValidationColumn:  "availability",
			FromValue:         "available",
		},
		{
			Dataset:           "bigip_pool_member_availability",
			IdentifierColumns: []string{"device", "pool_name", "pool_member"},
			ContextColumns:    []string{"partition"},
			ValidationColumn:  "pool_member_state",
			FromValue:         "available",
		},
		{
			Dataset:           "bigip_vip_availability",
			IdentifierColumns: []string{"device", "partition", "vip"},
			ContextColumns:    []string{"destination", "port"},
			ValidationColumn:  "availability",
			FromValue:         "available",
		},
	}
}
