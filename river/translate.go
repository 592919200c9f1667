package river

import (
	"fmt"
	"math"
	"time"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Maps change records into index actions.
 * No I/O, the same record always gives the same action
 */
type Translator struct {
	// Document field to copy node labels into, empty to skip labels
	LabelsField string
}

func (t Translator) Translate(record pdk.ChangeRecord) (pdk.Action, error) {
	if record.NodeID == "" {
		return pdk.Action{}, fmt.Errorf("Can't translate a %s record without node ID: %w", record.Kind, pdk.ErrUnsupportedValue)
	}

	switch record.Kind {
	case pdk.Deleted:
		return pdk.Action{Kind: pdk.ActionDelete, ID: record.NodeID}, nil

	case pdk.Created, pdk.Updated:
		doc := make(map[string]interface{}, len(record.Properties)+1)

		for key, value := range record.Properties {
			converted, ok := convertValue(value, true)
			if !ok {
				return pdk.Action{}, &pdk.UnsupportedValueError{NodeID: record.NodeID, Key: key, Value: value}
			}

			doc[key] = converted
		}

		if t.LabelsField != "" {
			labels := make([]interface{}, 0, len(record.Labels))
			for _, l := range record.Labels {
				labels = append(labels, l)
			}
			doc[t.LabelsField] = labels
		}

		return pdk.Action{Kind: pdk.ActionIndex, ID: record.NodeID, Document: doc}, nil
	}

	return pdk.Action{}, fmt.Errorf("Can't translate node '%s': unknown change kind %d: %w", record.NodeID, record.Kind, pdk.ErrUnsupportedValue)
}

/*
 * Convert a property value to its document representation.
 * Lists are allowed one level deep, the way graph stores keep arrays
 */
func convertValue(value interface{}, allowList bool) (interface{}, bool) {
	switch v := value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, true

	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, false
		}
		return v, true

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		return v, true

	case time.Time:
		return v.Format(time.RFC3339Nano), true

	case []interface{}:
		if !allowList {
			return nil, false
		}

		list := make([]interface{}, 0, len(v))
		for _, item := range v {
			converted, ok := convertValue(item, false)
			if !ok {
				return nil, false
			}
			list = append(list, converted)
		}
		return list, true

	case []string:
		if !allowList {
			return nil, false
		}

		list := make([]interface{}, 0, len(v))
		for _, item := range v {
			list = append(list, item)
		}
		return list, true

	case []int64:
		if !allowList {
			return nil, false
		}

		list := make([]interface{}, 0, len(v))
		for _, item := range v {
			list = append(list, item)
		}
		return list, true

	case []float64:
		if !allowList {
			return nil, false
		}

		list := make([]interface{}, 0, len(v))
		for _, item := range v {
			if math.IsNaN(item) || math.IsInf(item, 0) {
				return nil, false
			}
			list = append(list, item)
		}
		return list, true

	case []bool:
		if !allowList {
			return nil, false
		}

		list := make([]interface{}, 0, len(v))
		for _, item := range v {
			list = append(list, item)
		}
		return list, true
	}

	return nil, false
}
