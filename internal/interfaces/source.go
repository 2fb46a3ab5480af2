package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// Page is the result of fetching one page of a resource from a source API.
type Page struct {
	// Records are the normalized records of this page.
	Records []models.Record

	// NextCursor is the cursor to advance to once Records have been durably
	// written. It is never nil: intermediate pages carry a resume token,
	// the final page carries the completed-generation position.
	NextCursor *models.Cursor

	// Done reports that this was the final page of the current generation.
	Done bool
}

// SourceAdapter is the capability interface each extraction source
// implements: paginated fetching with source-specific rate limiting and
// error classification. Adapters perform no persistence; they only talk to
// the network.
//
// FetchPage suspends while the source's rate-limit budget is exhausted,
// retries transient failures internally with backoff, and returns
// *models.FatalFetchError / *models.TransientFetchError for the caller to
// convert into a job outcome. A nil cursor requests the first page of a
// full/initial fetch.
type SourceAdapter interface {
	Source() models.Source
	Resources() []models.Resource
	FetchPage(ctx context.Context, job *models.Job, cursor *models.Cursor) (*Page, error)
}
