package apiclient

import (
	"encoding/json"

	"github.com/internet-of-plants/iop-core/internal/logging"
)

// DefaultJSONCapacity is the fixed JSON document capacity of spec.md §4.4/
// §4.7 (768 bytes).
const DefaultJSONCapacity = 768

// buildEnvelope marshals v and enforces the fixed capacity cap described in
// spec.md §4.7: "a builder takes a context name ... and a callback that
// writes fields into a statically-sized JSON document. On overflow, the
// builder logs and returns empty." Go's encoding/json has no in-place
// streaming buffer to "zero before serialization" the way a C++ ArduinoJson
// StaticJsonDocument would; the capacity check after marshaling, and
// discarding the oversized result, gives the same observable contract.
func buildEnvelope(log *logging.Logger, context string, capacity int, v any) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("apiclient: ", context, ": failed to encode JSON envelope")
		return nil, false
	}
	if len(data) > capacity {
		log.Error("apiclient: ", context, ": JSON envelope exceeds capacity")
		return nil, false
	}
	return data, true
}
