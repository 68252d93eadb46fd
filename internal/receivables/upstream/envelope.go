package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errNotJSON = errors.New("upstream: body is not valid JSON")

// listPaths are tried in order; the first path that resolves to a JSON array wins.
// An empty path is the body itself. "{key}" stands for the collection name of the endpoint.
var listPaths = [][]string{
	{},
	{"data"},
	{"{key}"},
	{"entries"},
	{"data", "{key}"},
	{"data", "data"},
	{"data", "entries"},
	{"items"},
	{"results"},
}

// objectPaths locate a single document on detail endpoints.
var objectPaths = [][]string{
	{"data", "{key}"},
	{"data"},
	{"{key}"},
	{},
}

// balancePaths locate the party → amount map on the balances endpoint. A bare map (not under
// a "balances" key) only counts when it holds at least one amount, so `{}` or `{"error":null}`
// never pass for an authoritative answer.
var balancePaths = []struct {
	path  []string
	named bool
}{
	{path: []string{"balances"}, named: true},
	{path: []string{"data", "balances"}, named: true},
	{path: []string{"data"}},
	{path: []string{}},
}

// unwrapList returns the first array found along listPaths. found is false when the body is
// valid JSON without a recognisable array.
func unwrapList(body []byte, key string) (items []json.RawMessage, found bool, err error) {
	if !json.Valid(body) {
		return nil, false, errNotJSON
	}
	for _, path := range listPaths {
		raw, ok := walk(body, path, key)
		if !ok || firstByte(raw) != '[' {
			continue
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			continue
		}
		return items, true, nil
	}
	return []json.RawMessage{}, false, nil
}

// unwrapObject returns the first object found along objectPaths that carries an identifier.
func unwrapObject(body []byte, key string) (json.RawMessage, bool, error) {
	if !json.Valid(body) {
		return nil, false, errNotJSON
	}
	for _, path := range objectPaths {
		raw, ok := walk(body, path, key)
		if !ok || firstByte(raw) != '{' {
			continue
		}
		var probe struct {
			MongoID flexID `json:"_id"`
			ID      flexID `json:"id"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || firstString(string(probe.MongoID), string(probe.ID)) == "" {
			continue
		}
		return raw, true, nil
	}
	return nil, false, nil
}

// unwrapBalances returns the first object along balancePaths whose values are all amounts or null.
func unwrapBalances(body []byte) (map[string]flexAmount, bool, error) {
	if !json.Valid(body) {
		return nil, false, errNotJSON
	}
	for _, candidate := range balancePaths {
		raw, ok := walk(body, candidate.path, "")
		if !ok || firstByte(raw) != '{' {
			continue
		}
		out, ok := amountMap(raw)
		if !ok || (!candidate.named && !hasAmount(out)) {
			continue
		}
		return out, true, nil
	}
	return nil, false, nil
}

func amountMap(raw json.RawMessage) (map[string]flexAmount, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	out := make(map[string]flexAmount, len(fields))
	for id, v := range fields {
		var amount flexAmount
		_ = amount.UnmarshalJSON(v)
		if !amount.valid && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, false
		}
		out[id] = amount
	}
	return out, true
}

func hasAmount(amounts map[string]flexAmount) bool {
	for _, amount := range amounts {
		if amount.valid {
			return true
		}
	}
	return false
}

func walk(body []byte, path []string, key string) (json.RawMessage, bool) {
	current := json.RawMessage(body)
	for _, segment := range path {
		if segment == "{key}" {
			segment = key
		}
		if segment == "" || firstByte(current) != '{' {
			return nil, false
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(current, &fields); err != nil {
			return nil, false
		}
		next, ok := fields[segment]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
