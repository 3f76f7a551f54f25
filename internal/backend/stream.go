package backend

import (
	"context"

	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// DrainInsert reads an insert stream until its terminal signal and returns the summary.
// onRow sees every row result in the order the rows were inserted. Results still buffered
// when the summary arrives are delivered before returning.
func DrainInsert(ctx context.Context, results <-chan models.QueryResult, done <-chan models.InsertSummary, onRow func(models.QueryResult)) (models.InsertSummary, error) {
	if onRow == nil {
		onRow = func(models.QueryResult) {}
	}
	for {
		select {
		case r := <-results:
			onRow(r)
		case summary := <-done:
			for {
				select {
				case r := <-results:
					onRow(r)
				default:
					return summary, nil
				}
			}
		case <-ctx.Done():
			return models.InsertSummary{}, ctx.Err()
		}
	}
}
