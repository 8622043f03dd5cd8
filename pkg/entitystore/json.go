package entitystore

import (
	"encoding/json"
	"fmt"

	"github.com/pipeforge/runcore/pkg/models"
)

// jsonOf marshals v for a JSONB column, panicking only on the impossible
// case of an unmarshalable domain struct (all fields here are plain data).
func jsonOf(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("entitystore: marshal %T: %v", v, err))
	}
	return b
}

// jsonOfOrNil marshals steps, returning nil (SQL NULL) for an empty slice
// rather than the literal "[]" or "null" JSON string.
func jsonOfOrNil(steps []models.MicroPlanStep) []byte {
	if len(steps) == 0 {
		return nil
	}
	return jsonOf(steps)
}
