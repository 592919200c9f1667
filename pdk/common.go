package pdk

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

/*
 * Stable hash of a node's labels and properties.
 *
 * Keys and labels are sorted before hashing, so the same node content
 * always gives the same fingerprint regardless of the map iteration order.
 * "%#v" keeps types apart: int64(1) and "1" produce different hashes
 */
func Fingerprint(labels []string, properties map[string]interface{}) string {
	h := xxhash.New()

	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)

	// Length prefixed, so ["A:B"] and ["A", "B"] differ
	for _, label := range sorted {
		h.WriteString(strconv.Itoa(len(label)))
		h.WriteString(":")
		h.WriteString(label)
	}
	h.WriteString("\n")

	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(fmt.Sprintf("%#v", properties[k]))
		h.WriteString("\n")
	}

	return strconv.FormatUint(h.Sum64(), 16)
}

/*
 * Check whether the slice contains the given string
 */
func StringSliceContains(slice []string, val string) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}

	return false
}
