// Package serialization provides helpers for serializing payload documents:
// canonical JSON used for structural equality checks and masking of sensitive
// member fields before payloads are logged.
package serialization

import (
	"encoding/json"

	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	logger "github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

const maskValue = "********"

// CanonicalJSON serializes v into a canonical JSON byte slice with
// deterministically ordered object keys. Two values with the same structure
// and content always produce identical bytes, so the output is usable for
// equality comparison of documents.
func CanonicalJSON(v interface{}) ([]byte, error) {
	module := "serialization"

	if v == nil {
		return []byte("null"), nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, exception.NewSyncError(module, "Failed to serialize value for canonicalization", err, false, false)
	}

	// Round-trip through interface{} so map keys come out sorted.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, exception.NewSyncError(module, "Failed to normalize value for canonicalization", err, false, false)
	}

	data, err := json.Marshal(generic)
	if err != nil {
		return nil, exception.NewSyncError(module, "Failed to serialize canonical form", err, false, false)
	}
	return data, nil
}

// JSONEqual reports whether a and b are structurally equal as JSON documents.
func JSONEqual(a, b interface{}) (bool, error) {
	ca, err := CanonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		return false, err
	}
	return string(ca) == string(cb), nil
}

// MaskedCopy creates a copy of a document map with the configured sensitive
// keys replaced by a mask. Masking recurses into nested objects and arrays so
// member fields inside contact lists are covered too.
func MaskedCopy(doc map[string]interface{}, maskedKeys []string) map[string]interface{} {
	if len(doc) == 0 {
		return map[string]interface{}{}
	}
	keySet := make(map[string]struct{}, len(maskedKeys))
	for _, k := range maskedKeys {
		keySet[k] = struct{}{}
	}
	return maskMap(doc, keySet)
}

func maskMap(doc map[string]interface{}, keySet map[string]struct{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if _, ok := keySet[k]; ok {
			masked[k] = maskValue
			continue
		}
		masked[k] = maskValueOf(v, keySet)
	}
	return masked
}

func maskValueOf(v interface{}, keySet map[string]struct{}) interface{} {
	switch tv := v.(type) {
	case map[string]interface{}:
		return maskMap(tv, keySet)
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			out[i] = maskValueOf(item, keySet)
		}
		return out
	default:
		return v
	}
}

// MarshalMasked serializes v to JSON with the configured sensitive keys
// masked. Intended for log output of inbound and outbound payloads.
func MarshalMasked(v interface{}, maskedKeys []string) ([]byte, error) {
	module := "serialization"

	raw, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("Failed to serialize payload for masking: %v", err)
		return nil, exception.NewSyncError(module, "Failed to serialize payload for masking", err, false, false)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, exception.NewSyncError(module, "Failed to normalize payload for masking", err, false, false)
	}

	masked := maskValueOf(generic, toKeySet(maskedKeys))
	data, err := json.Marshal(masked)
	if err != nil {
		return nil, exception.NewSyncError(module, "Failed to serialize masked payload", err, false, false)
	}
	return data, nil
}

func toKeySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
