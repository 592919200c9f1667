package pdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Jeffail/gabs/v2"
)

/*
 * Result of a bulk request, item by item
 */
type BulkResult struct {
	// Leading actions acknowledged by the index
	Acked int

	// IDs of the acknowledged actions the index refused to store,
	// when rejections are skipped
	Rejected []string

	// Why the first unacknowledged action failed, empty when all acked
	Reason string
}

/*
 * Build a newline delimited bulk request body.
 * "docType" is set only for the indices still having mapping types
 */
func BulkBody(index, docType string, actions []Action) (*bytes.Buffer, error) {
	body := &bytes.Buffer{}

	for _, a := range actions {
		meta := map[string]interface{}{
			"_index": index,
			"_id":    a.ID,
		}
		if docType != "" {
			meta["_type"] = docType
		}

		header, err := json.Marshal(map[string]interface{}{a.Kind.String(): meta})
		if err != nil {
			return nil, fmt.Errorf("Can't encode action for '%s': %s", a.ID, err.Error())
		}

		body.Write(header)
		body.WriteByte('\n')

		if a.Kind == ActionDelete {
			continue
		}

		doc, err := json.Marshal(a.Document)
		if err != nil {
			return nil, fmt.Errorf("Can't encode document '%s': %s", a.ID, err.Error())
		}

		body.Write(doc)
		body.WriteByte('\n')
	}

	return body, nil
}

/*
 * Go through the bulk response items in order
 * and find how many leading actions are acknowledged.
 *
 * Deleting a missing document is a no-op, not a failure.
 * With "skipRejected" documents refused by the index mapping
 * are acknowledged as well, retrying them can't succeed
 */
func ParseBulk(response []byte, actions []Action, skipRejected bool) (*BulkResult, error) {
	parsed, err := gabs.ParseJSON(response)
	if err != nil {
		return nil, fmt.Errorf("Can't decode bulk response: %s", err.Error())
	}

	result := &BulkResult{}
	items := parsed.S("items").Children()

	for i, action := range actions {
		if i >= len(items) {
			result.Reason = fmt.Sprintf("no response item for '%s'", action.ID)
			return result, nil
		}

		var item *gabs.Container
		for _, child := range items[i].ChildrenMap() {
			item = child
		}

		if item == nil {
			result.Reason = fmt.Sprintf("empty response item for '%s'", action.ID)
			return result, nil
		}

		status := toInt(item.S("status").Data())

		switch {
		case status >= 200 && status < 300:
		case action.Kind == ActionDelete && status == http.StatusNotFound:
		case skipRejected && Rejection(status):
			result.Rejected = append(result.Rejected, action.ID)

		default:
			reason := fmt.Sprintf("'%s' failed with status %d", action.ID, status)
			if t, ok := item.Path("error.type").Data().(string); ok {
				reason += ", " + t
			}
			if r, ok := item.Path("error.reason").Data().(string); ok {
				reason += ": " + r
			}

			result.Reason = reason
			return result, nil
		}

		result.Acked++
	}

	return result, nil
}

/*
 * Status of a document the index will never accept as is,
 * unlike conflicts and throttling
 */
func Rejection(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusNotFound &&
		status != http.StatusConflict &&
		status != http.StatusTooManyRequests
}

/*
 * Classify a failed whole-request HTTP status
 */
func SinkStatusError(status int, body string) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("Index refused credentials, status %d: %s: %w", status, body, ErrSinkRejected)
	}

	return fmt.Errorf("Index responded with status %d: %s: %w", status, body, ErrSinkUnavailable)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}

	return 0
}
