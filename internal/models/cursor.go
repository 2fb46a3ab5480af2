package models

import (
	"fmt"
	"time"
)

// Cursor records fetch progress for one (source, project, resource) key so
// that a later run resumes incrementally instead of re-fetching everything.
//
// Two kinds of progress are tracked:
//   - PageToken marks the resume point inside an in-flight generation. It is
//     non-empty only while a fetch generation is partially complete.
//   - LastCompleted is the upper time bound of the last fully completed
//     generation. The next generation fetches changes after this point.
//
// A cursor is advanced strictly after the corresponding page of records has
// been durably written. A crash between page write and cursor advance is
// safe: the re-run re-fetches from the last advanced position and the writer
// overwrites by natural key.
type Cursor struct {
	Key           string    `json:"key"` // source|project|resource
	Source        Source    `json:"source"`
	ProjectID     string    `json:"project_id"`
	Resource      Resource  `json:"resource"`
	PageToken     string    `json:"page_token"`
	WindowStart   time.Time `json:"window_start"`   // lower bound of the in-flight generation
	LastCompleted time.Time `json:"last_completed"` // upper bound of the last completed generation
	Generation    int       `json:"generation"`     // monotonically increasing fetch generation
	UpdatedAt     time.Time `json:"updated_at"`
}

// CursorKey builds the storage key for a (source, project, resource) triple.
func CursorKey(source Source, projectID string, resource Resource) string {
	return fmt.Sprintf("%s|%s|%s", source, projectID, resource)
}

// InFlight reports whether the cursor points into a partially completed
// generation.
func (c *Cursor) InFlight() bool {
	return c.PageToken != ""
}
