package backfill

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MaherFSF/Yemenactr-sub010/pkg/plugin"
)

// Validator rejects records that cannot be stored as a usable observation.
// Min and Max are optional inclusive bounds on the value.
type Validator struct {
	Min *float64
	Max *float64
}

// Check returns nil when rec is acceptable.
func (v Validator) Check(rec plugin.Record) error {
	if strings.TrimSpace(rec.SeriesKey) == "" {
		return errors.New("missing series key")
	}
	if rec.Period.IsZero() {
		return fmt.Errorf("%s: missing period", rec.SeriesKey)
	}
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		return fmt.Errorf("%s: value is not finite", rec.SeriesKey)
	}
	if v.Min != nil && rec.Value < *v.Min {
		return fmt.Errorf("%s: value %g below minimum %g", rec.SeriesKey, rec.Value, *v.Min)
	}
	if v.Max != nil && rec.Value > *v.Max {
		return fmt.Errorf("%s: value %g above maximum %g", rec.SeriesKey, rec.Value, *v.Max)
	}
	return nil
}
