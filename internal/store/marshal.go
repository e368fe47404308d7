package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/vaultharness/internal/ir"
)

// marshalArgs serializes rendered step arguments to canonical JSON.
// A nil slice is stored as "[]".
func marshalArgs(args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	data, err := ir.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// marshalMetrics serializes snapshot metrics to canonical JSON. Integer
// values are written as decimal strings.
func marshalMetrics(metrics map[string]any) (string, error) {
	if metrics == nil {
		metrics = map[string]any{}
	}
	data, err := ir.MarshalCanonical(metrics)
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}
	return string(data), nil
}

func unmarshalArgs(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var args []string
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}

func unmarshalMetrics(data string) (map[string]string, error) {
	metrics := map[string]string{}
	if data == "" {
		return metrics, nil
	}
	if err := json.Unmarshal([]byte(data), &metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	return metrics, nil
}
