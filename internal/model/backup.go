package model

import "sort"

// Row is a single table record keyed by column name. Values are carried
// through export and import without interpretation.
type Row map[string]any

// TableSnapshot holds every row of one table at export time.
type TableSnapshot struct {
	Content []Row `json:"content"`
}

// Document is the logical backup: table name to snapshot. Key order carries
// no meaning; restore order always comes from the catalog.
type Document map[string]TableSnapshot

// AccountOutcome reports identity-provider account creation for the rows of
// the identity table. It is separate from the table's insert outcome.
type AccountOutcome struct {
	Created int      `json:"created"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Outcome is the import result for a single table.
type Outcome struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Count    *int            `json:"count,omitempty"`
	Accounts *AccountOutcome `json:"accounts,omitempty"`
}

// ImportReport is returned by an import. Success is true whenever the run
// completed; callers inspect Results for per-table failures.
type ImportReport struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Results map[string]Outcome `json:"results"`
}

// Failed returns the names of tables whose outcome is not successful.
func (r ImportReport) Failed() []string {
	var names []string
	for name, o := range r.Results {
		if !o.Success {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
