package engine

import (
	"context"
	"fmt"

	"github.com/nainya/docrev/pkg/compare"
	"github.com/nainya/docrev/pkg/storage"
)

// Compare starts an asynchronous comparison of two live versions of one document
func (e *Engine) Compare(ctx context.Context, fromVersionID, toVersionID, actor string) (*compare.Comparison, error) {
	var documentID string
	err := e.db.View(func(tx *storage.Tx) error {
		from, err := e.liveVersion(tx, fromVersionID)
		if err != nil {
			return err
		}
		to, err := e.liveVersion(tx, toVersionID)
		if err != nil {
			return err
		}
		if from.DocumentID != to.DocumentID {
			return fmt.Errorf("%w: %s and %s belong to different documents", ErrInvalidRequest, from.ID, to.ID)
		}
		documentID = from.DocumentID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.compare.Start(compare.Request{
		DocumentID:    documentID,
		FromVersionID: fromVersionID,
		ToVersionID:   toVersionID,
		Actor:         actor,
	})
}

// Comparison reports the status and, once finished, the result of a comparison
func (e *Engine) Comparison(ctx context.Context, id string) (*compare.Comparison, error) {
	return e.compare.Get(id)
}

// WaitComparisons blocks until every running comparison finished
func (e *Engine) WaitComparisons() {
	e.compare.Wait()
}
