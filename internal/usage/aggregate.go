package usage

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goodtune/detoxmine/internal/provider"
)

const (
	// DisplayThresholdMs is the foreground time an app needs to be displayed.
	DisplayThresholdMs = 30000

	// DisplayLimit bounds the display set.
	DisplayLimit = 10

	// FallbackLimit bounds the unfiltered display set used when strict
	// filtering leaves nothing to show.
	FallbackLimit = 5
)

type rawRecord struct {
	app     AppUsage
	numeric bool
}

// Normalize decodes a provider payload into the qualifying set: records with
// a package name and a positive numeric foreground time, sorted by foreground
// time descending. The payload may be an array of records or an object keyed
// by package name. Payloads that are neither yield no records.
func Normalize(payload provider.Payload) ([]AppUsage, error) {
	records, err := decodeRecords(payload)
	if err != nil {
		return nil, err
	}
	return qualify(records), nil
}

// Aggregate computes the total and display set from a qualifying set.
func Aggregate(qualifying []AppUsage) Result {
	result := EmptyResult()
	if len(qualifying) == 0 {
		return result
	}

	for _, app := range qualifying {
		result.TotalScreenTimeMs += app.ForegroundMs
	}

	display := make([]AppUsage, 0, DisplayLimit)
	for _, app := range qualifying {
		if app.ForegroundMs <= DisplayThresholdMs || isExcluded(app.PackageName) {
			continue
		}
		display = append(display, app)
		if len(display) == DisplayLimit {
			break
		}
	}

	if len(display) == 0 {
		n := min(len(qualifying), FallbackLimit)
		display = append(display, qualifying[:n]...)
	}

	result.RankedApps = display
	return result
}

// isExcluded reports whether a package looks like a system component.
func isExcluded(pkg string) bool {
	return strings.HasPrefix(pkg, "android.") ||
		strings.HasPrefix(pkg, "com.android.") ||
		strings.Contains(pkg, "system") ||
		strings.HasSuffix(pkg, ".launcher")
}

func decodeRecords(payload provider.Payload) ([]rawRecord, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}

	var decoded any
	if err := sonic.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode usage payload: %w", err)
	}

	var entries []any
	switch v := decoded.(type) {
	case []any:
		entries = v
	case map[string]any:
		// Map iteration is random; key order keeps ties stable across refreshes
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entries = make([]any, 0, len(keys))
		for _, key := range keys {
			entries = append(entries, v[key])
		}
	default:
		return nil, nil
	}

	records := make([]rawRecord, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, recordFromObject(obj))
	}
	return records, nil
}

func recordFromObject(obj map[string]any) rawRecord {
	var rec rawRecord
	rec.app.PackageName, _ = obj["packageName"].(string)
	rec.app.AppName, _ = obj["appName"].(string)
	if rec.app.AppName == "" {
		rec.app.AppName = rec.app.PackageName
	}

	var foreground float64
	foreground, rec.numeric = obj["totalTimeInForeground"].(float64)
	rec.app.ForegroundMs = int64(foreground)

	rec.app.FirstTimestamp = int64Field(obj, "firstTimeStamp")
	rec.app.LastTimestamp = int64Field(obj, "lastTimeStamp")
	rec.app.LastTimeUsed = int64Field(obj, "lastTimeUsed")
	return rec
}

func int64Field(obj map[string]any, key string) int64 {
	if v, ok := obj[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func qualify(records []rawRecord) []AppUsage {
	qualifying := make([]AppUsage, 0, len(records))
	for _, rec := range records {
		if !rec.numeric || rec.app.ForegroundMs <= 0 || rec.app.PackageName == "" {
			continue
		}
		qualifying = append(qualifying, rec.app)
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].ForegroundMs > qualifying[j].ForegroundMs
	})
	return qualifying
}
