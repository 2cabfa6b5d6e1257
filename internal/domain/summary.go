package domain

import "time"

// RepositoryStatus is a tracked repository's position in the lifecycle
type RepositoryStatus struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	LastCommit        Date   `json:"lastCommit"`
	DateAdded         Date   `json:"dateAdded"`
	ExemptUntil       *Date  `json:"exemptUntil,omitempty"`
	ExemptReason      string `json:"exemptReason,omitempty"`
	Eligible          bool   `json:"eligible"`
	DaysUntilEligible int    `json:"daysUntilEligible"`
	Contributors      int    `json:"contributors"`
}

// BatchTotals summarises the batch history
type BatchTotals struct {
	Batches   int `json:"batches"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Undone counts batches emptied by undo
	Undone int `json:"undone"`
}

// LedgerSummary is a point-in-time view of the ledger and batch history
type LedgerSummary struct {
	GeneratedAt  time.Time           `json:"generatedAt"`
	GraceDays    int                 `json:"graceDays"`
	Tracked      int                 `json:"tracked"`
	Exempt       int                 `json:"exempt"`
	Eligible     int                 `json:"eligible"`
	Pending      int                 `json:"pending"`
	Repositories []*RepositoryStatus `json:"repositories"`
	Batches      BatchTotals         `json:"batches"`
	LastBatch    *ArchiveBatch       `json:"lastBatch,omitempty"`
}
