// Package catalog implements the vehicle catalog collaborator: it turns
// accumulated search criteria into a parameterized filter and runs it against
// a SQL inventory table. It owns filter construction only — storage layout
// and indexing belong to whoever loads the inventory.
package catalog

import (
	"context"

	"github.com/drivana/sales-agent/internal/agent/model"
)

// Store is the query surface the dialogue flows depend on.
type Store interface {
	// Search returns up to limit vehicles matching the criteria. The
	// returned slice is never fabricated: every record comes from the
	// underlying inventory.
	Search(ctx context.Context, criteria model.SearchCriteria, limit int) ([]model.Vehicle, error)
}

// Feature sentinel values as stored in the inventory. The schema keeps
// boolean features as optional text, so a row can be "present", "absent" or
// unspecified (NULL/empty).
const (
	FeaturePresent = "present"
	FeatureAbsent  = "absent"
)
