// Package inmemdb is a process-local store for tests and debug runs.
package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-eligibility/core/appeal"
	"github.com/trezcool/masomo-eligibility/core/audit"
	"github.com/trezcool/masomo-eligibility/core/eligibility"
)

type (
	DB struct {
		tenant *tenantTable
		appeal *appealTable
		audit  *auditTable
	}

	// documents share the tenant lock so a transition and its document review apply together
	tenantTable struct {
		sync.RWMutex
		table     map[string]*eligibility.Tenant
		documents map[string][]*eligibility.Document // {tenantID: documents}
	}

	appealTable struct {
		sync.RWMutex
		table map[string]*appeal.Appeal
	}

	auditTable struct {
		sync.RWMutex
		entries []audit.Entry
	}
)

func Open() *DB {
	return &DB{
		tenant: &tenantTable{
			table:     make(map[string]*eligibility.Tenant),
			documents: make(map[string][]*eligibility.Document),
		},
		appeal: &appealTable{table: make(map[string]*appeal.Appeal)},
		audit:  &auditTable{},
	}
}

func paginate(total int, offset, limit int) (int, int) {
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return offset, end
}
