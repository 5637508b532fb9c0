package mcp

import (
	"fmt"
	"strconv"
	"strings"
)

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// intArg reads a whole number argument. JSON numbers arrive as float64.
func intArg(args map[string]interface{}, key string) (int, bool, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false, fmt.Errorf("%s must be a whole number", key)
	}
	return int(f), true, nil
}

func boolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}

// parseStepList parses a comma separated list of step indexes such as "1,3".
func parseStepList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var steps []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid step index %q", part)
		}
		steps = append(steps, n)
	}
	return steps, nil
}
