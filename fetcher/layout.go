package fetcher

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/evmsleuth/sleuth/core/tracker"
)

// solc emits the storage layout as {"storage":[{"label":...,"slot":"0",...}]}
// under output selection "storageLayout".
type solcLayout struct {
	Storage []struct {
		Label string `json:"label"`
		Slot  string `json:"slot"`
	} `json:"storage"`
}

// ParseSolcLayout decodes a solc storageLayout document into the layout the
// rules consume.
func ParseSolcLayout(data []byte) (*tracker.Layout, error) {
	var doc solcLayout
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse storage layout: %w", err)
	}
	layout := tracker.NewLayout()
	for _, entry := range doc.Storage {
		slot, err := uint256.FromDecimal(entry.Slot)
		if err != nil {
			return nil, fmt.Errorf("storage layout slot %q: %w", entry.Slot, err)
		}
		layout.Add(slot, entry.Label)
	}
	return layout, nil
}
