package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys. Kept to a small fixed vocabulary so profiles stay
// cheap to index.
const (
	ProfilingLabelOperation = "operation"
	ProfilingLabelChannel   = "channel"
)

// maxLabelValueLength bounds label values; longer values are truncated.
const maxLabelValueLength = 128

// highCardinalityLabels are keys whose values are unbounded per-entity
// identifiers. They are dropped silently: each distinct value would become
// its own profile series in Pyroscope. Channels are a small fixed set and
// deliberately absent.
var highCardinalityLabels = map[string]bool{
	"batch_id":    true,
	"record_ref":  true,
	"customer_id": true,
	"offer_id":    true,
	"source_ref":  true,
	"trace_id":    true,
	"span_id":     true,
}

// WithProfilingLabels runs fn with pprof labels attached, so CPU samples
// taken inside can be sliced by label in the Pyroscope UI. The labels map is
// read up front and not retained.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// BatchRunLabels builds the standard label set for one batch processing run.
func BatchRunLabels(operation, channel string) map[string]string {
	labels := make(map[string]string, 2)
	if operation != "" {
		labels[ProfilingLabelOperation] = operation
	}
	if channel != "" {
		labels[ProfilingLabelChannel] = channel
	}
	return labels
}

// sanitizeLabels turns a label map into the flat key/value slice the
// pyroscope API takes: high-cardinality and empty entries dropped, keys
// normalized to snake_case, values truncated, keys sorted so the output is
// deterministic.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(labels)*2)
	for _, key := range keys {
		value := labels[key]
		if key == "" || value == "" || highCardinalityLabels[key] {
			continue
		}
		if len(value) > maxLabelValueLength {
			value = value[:maxLabelValueLength]
		}
		sanitized := sanitizeLabelKey(key)
		if sanitized == "" {
			continue
		}
		pairs = append(pairs, sanitized, value)
	}
	return pairs
}

// sanitizeLabelKey lowercases the key, maps separators to underscores, and
// strips everything outside [a-z0-9_].
func sanitizeLabelKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")

	result := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			result = append(result, c)
		}
	}
	return string(result)
}
