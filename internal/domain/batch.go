package domain

// ArchiveStatus is the outcome of a single archive attempt
type ArchiveStatus string

const (
	ArchiveStatusSuccess ArchiveStatus = "Success"
	ArchiveStatusFailed  ArchiveStatus = "Failed"
)

// ArchivedMessage is recorded for every successful archive
const ArchivedMessage = "Repository Archived Successfully."

// ArchiveOutcome records one repository within a batch
type ArchiveOutcome struct {
	Name    string        `json:"name"`
	APIURL  string        `json:"apiurl"`
	Status  ArchiveStatus `json:"status"`
	Message string        `json:"message"`
}

// ArchiveBatch is one execution of the archive pass
type ArchiveBatch struct {
	ID    int              `json:"batchID"`
	Date  Date             `json:"date"`
	Repos []ArchiveOutcome `json:"repos"`
}

// Succeeded returns the number of successful outcomes
func (b *ArchiveBatch) Succeeded() int {
	n := 0
	for _, o := range b.Repos {
		if o.Status == ArchiveStatusSuccess {
			n++
		}
	}
	return n
}

// Failed returns the number of failed outcomes
func (b *ArchiveBatch) Failed() int {
	return len(b.Repos) - b.Succeeded()
}

// NextBatchID returns a stable id one greater than any id in history
func NextBatchID(history []*ArchiveBatch) int {
	max := 0
	for _, b := range history {
		if b.ID > max {
			max = b.ID
		}
	}
	return max + 1
}

// FindBatch returns the batch with the given id
func FindBatch(history []*ArchiveBatch, id int) (*ArchiveBatch, bool) {
	for _, b := range history {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}
