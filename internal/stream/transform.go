package stream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Transform maps a batch of rows to one prediction per row.
type Transform func(ctx context.Context, rows [][]float64, partitions int) ([]float64, error)

// Predict scores rows with score, splitting the batch into at most
// partitions contiguous slices scored concurrently.
func Predict(score func(row []float64) float64) Transform {
	return func(ctx context.Context, rows [][]float64, partitions int) ([]float64, error) {
		out := make([]float64, len(rows))
		if len(rows) == 0 {
			return out, nil
		}
		if partitions < 1 {
			partitions = 1
		}
		if partitions > len(rows) {
			partitions = len(rows)
		}
		size := (len(rows) + partitions - 1) / partitions

		g, ctx := errgroup.WithContext(ctx)
		for lo := 0; lo < len(rows); lo += size {
			hi := min(lo+size, len(rows))
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					if i%256 == 0 {
						if err := ctx.Err(); err != nil {
							return err
						}
					}
					out[i] = score(rows[i])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}
}
