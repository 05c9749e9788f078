package modules

import "fmt"

// optString reads a string option, returning def when absent.
func optString(options map[string]interface{}, key, def string) (string, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string, got %T", key, v)
	}
	return s, nil
}

// optBool reads a boolean option, returning def when absent.
func optBool(options map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %q must be a boolean, got %T", key, v)
	}
	return b, nil
}

// optStringSlice reads a list-of-strings option, returning def when absent.
func optStringSlice(options map[string]interface{}, key string, def []string) ([]string, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("option %q must be a list of strings, got %T", key, v)
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("option %q[%d] must be a string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}
