package features

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ApplyScaler normalizes the scaled columns of v in place.
// The columns are extracted in the given order, passed to the scaler and
// written back; every other column is left untouched. v is only modified
// when the transform succeeds.
func ApplyScaler(v *Vector, columns []string, scaler domain.Scaler) error {
	in := make([]float64, len(columns))
	for i, c := range columns {
		val, ok := v.Get(c)
		if !ok {
			return fmt.Errorf("%w: scaled column %q not in feature schema", domain.ErrSchemaMismatch, c)
		}
		in[i] = val
	}

	out, err := scaler.Transform(columns, in)
	if err != nil {
		return err
	}
	if len(out) != len(columns) {
		return fmt.Errorf("%w: scaler returned %d values for %d columns", domain.ErrSchemaMismatch, len(out), len(columns))
	}

	for i, c := range columns {
		v.Set(c, out[i])
	}
	return nil
}
