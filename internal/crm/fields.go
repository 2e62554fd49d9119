package crm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/lead"
)

// FieldKeys maps each custom-field slot to the opaque key the CRM assigned
// it. Slots without a key are not written.
type FieldKeys map[lead.Field]string

// NewFieldKeys builds the table from configuration, where names are slot
// names such as "listing_price". Unknown names are rejected.
func NewFieldKeys(cfg map[string]string) (FieldKeys, error) {
	keys := make(FieldKeys, len(cfg))
	var unknown []string
	for name, key := range cfg {
		f, ok := lead.ParseField(strings.TrimSpace(name))
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			keys[f] = key
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown custom field slots: %s", strings.Join(unknown, ", "))
	}
	return keys, nil
}

// Key returns the CRM key for f.
func (k FieldKeys) Key(f lead.Field) (string, bool) {
	key, ok := k[f]
	return key, ok
}

// Apply copies every configured slot from values into payload. A slot
// missing from values is written as null.
func (k FieldKeys) Apply(payload map[string]any, values map[lead.Field]any) {
	for f, key := range k {
		payload[key] = values[f]
	}
}
