package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// chartJSONMaxNodes and chartJSONMaxDepth bound the shape of a chartjson
// payload before any structural rule is even checked, so a pathological
// document can't make validation itself expensive.
const (
	chartJSONMaxNodes = 15000
	chartJSONMaxDepth = 64
)

var unsafeChartKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

var functionLiteralRE = regexp.MustCompile(`function\s*\(|\([^()]*\)\s*=>`)

var allowedSeriesTypes = map[string]bool{
	"line": true, "bar": true, "pie": true, "scatter": true,
	"radar": true, "gauge": true, "heatmap": true, "candlestick": true,
	"boxplot": true, "funnel": true, "sankey": true, "treemap": true,
}

// axisBoundSeriesTypes require both xAxis and yAxis to be present.
var axisBoundSeriesTypes = map[string]bool{
	"line": true, "bar": true, "scatter": true, "candlestick": true, "boxplot": true,
}

var allowedAxisTypes = map[string]bool{
	"category": true, "value": true, "time": true, "log": true,
}

// ValidateChartJSON validates a chartjson block body against the allowed
// shape: valid JSON object, a fixed top-level key set, no unsafe keys or
// function-literal strings, bounded node count/depth, and series/axis
// shape rules.
func ValidateChartJSON(body []byte) Result {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return invalid(fmt.Sprintf("chartjson payload is not valid JSON: %v", err))
	}

	obj, isObject := root.(map[string]any)
	if !isObject {
		return invalid("chartjson payload root must be an object.")
	}

	nodes, depth := countShape(root)
	if nodes > chartJSONMaxNodes {
		return invalid(fmt.Sprintf("chartjson payload exceeds the maximum node count (%d).", chartJSONMaxNodes))
	}
	if depth > chartJSONMaxDepth {
		return invalid(fmt.Sprintf("chartjson payload exceeds the maximum nesting depth (%d).", chartJSONMaxDepth))
	}

	if reason := checkUnsafeContent(root); reason != "" {
		return invalid(reason)
	}

	for key := range obj {
		switch key {
		case "title", "caption", "option", "legend", "grid", "dataset", "visualMap", "dataZoom":
		default:
			return invalid(fmt.Sprintf("unrecognised top-level chartjson key %q.", key))
		}
	}

	if reason := checkStringOrStringSlice(obj, "title"); reason != "" {
		return invalid(reason)
	}
	if reason := checkStringOrStringSlice(obj, "caption"); reason != "" {
		return invalid(reason)
	}
	for _, key := range []string{"legend", "grid", "dataset", "visualMap", "dataZoom"} {
		if reason := checkObjectOrObjectSlice(obj, key); reason != "" {
			return invalid(reason)
		}
	}

	optionRaw, hasOption := obj["option"]
	if !hasOption {
		return invalid("chartjson payload is missing the required \"option\" object.")
	}
	option, isObj := optionRaw.(map[string]any)
	if !isObj {
		return invalid("chartjson \"option\" must be an object.")
	}

	return validateOption(option)
}

func validateOption(option map[string]any) Result {
	seriesRaw, hasSeries := option["series"]
	if !hasSeries {
		return invalid("chartjson \"option.series\" is required.")
	}
	series, isSlice := seriesRaw.([]any)
	if !isSlice || len(series) == 0 {
		return invalid("chartjson \"option.series\" must be a non-empty list.")
	}

	needsAxes := false
	for i, entryRaw := range series {
		entry, isObj := entryRaw.(map[string]any)
		if !isObj {
			return invalid(fmt.Sprintf("chartjson series[%d] must be an object.", i))
		}
		seriesType, _ := entry["type"].(string)
		if !allowedSeriesTypes[seriesType] {
			return invalid(fmt.Sprintf("chartjson series[%d] has unsupported type %q.", i, seriesType))
		}
		if axisBoundSeriesTypes[seriesType] {
			needsAxes = true
		}
		if data, present := entry["data"]; present {
			if _, isArray := data.([]any); !isArray {
				return invalid(fmt.Sprintf("chartjson series[%d].data must be an array.", i))
			}
		}
	}

	if needsAxes {
		if _, present := option["xAxis"]; !present {
			return invalid("chartjson option is missing \"xAxis\", required by an axis-bound series type.")
		}
		if _, present := option["yAxis"]; !present {
			return invalid("chartjson option is missing \"yAxis\", required by an axis-bound series type.")
		}
	}

	for _, axisKey := range []string{"xAxis", "yAxis"} {
		if reason := checkAxis(option, axisKey); reason != "" {
			return invalid(reason)
		}
	}

	return ok()
}

func checkAxis(option map[string]any, key string) string {
	raw, present := option[key]
	if !present {
		return ""
	}
	axes, ok := asObjectSlice(raw)
	if !ok {
		return fmt.Sprintf("chartjson %q must be an object or a list of objects.", key)
	}
	for _, axis := range axes {
		if typ, present := axis["type"]; present {
			t, isString := typ.(string)
			if !isString || !allowedAxisTypes[t] {
				return fmt.Sprintf("chartjson %q has unsupported axis type %v.", key, typ)
			}
		}
	}
	return ""
}

func checkStringOrStringSlice(obj map[string]any, key string) string {
	raw, present := obj[key]
	if !present {
		return ""
	}
	if _, isString := raw.(string); isString {
		return ""
	}
	return fmt.Sprintf("chartjson %q must be a string.", key)
}

func checkObjectOrObjectSlice(obj map[string]any, key string) string {
	raw, present := obj[key]
	if !present {
		return ""
	}
	if _, ok := asObjectSlice(raw); !ok {
		return fmt.Sprintf("chartjson %q must be an object or a list of objects.", key)
	}
	return ""
}

func asObjectSlice(raw any) ([]map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}, true
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, entry := range v {
			obj, isObj := entry.(map[string]any)
			if !isObj {
				return nil, false
			}
			out = append(out, obj)
		}
		return out, true
	default:
		return nil, false
	}
}

// countShape returns the total node count and max nesting depth of a
// decoded JSON value.
func countShape(v any) (nodes, depth int) {
	switch t := v.(type) {
	case map[string]any:
		nodes = 1
		maxChildDepth := 0
		for _, child := range t {
			n, d := countShape(child)
			nodes += n
			if d > maxChildDepth {
				maxChildDepth = d
			}
		}
		return nodes, maxChildDepth + 1
	case []any:
		nodes = 1
		maxChildDepth := 0
		for _, child := range t {
			n, d := countShape(child)
			nodes += n
			if d > maxChildDepth {
				maxChildDepth = d
			}
		}
		return nodes, maxChildDepth + 1
	default:
		return 1, 1
	}
}

// checkUnsafeContent recursively rejects disallowed keys and string values
// that look like function literals (a JSON payload should never carry
// executable code).
func checkUnsafeContent(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for key, val := range t {
			if unsafeChartKeys[key] {
				return fmt.Sprintf("chartjson payload contains a disallowed key %q.", key)
			}
			if reason := checkUnsafeContent(val); reason != "" {
				return reason
			}
		}
	case []any:
		for _, val := range t {
			if reason := checkUnsafeContent(val); reason != "" {
				return reason
			}
		}
	case string:
		if functionLiteralRE.MatchString(t) {
			return "chartjson payload contains a function-literal string value."
		}
	}
	return ""
}
