package intent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Params holds extracted intent arguments. Values are either string or
// float64.
type Params map[string]any

// NormalizeParams copies raw model output into Params, keeping scalars and
// flattening anything else to its JSON text.
func NormalizeParams(raw map[string]any) Params {
	out := make(Params, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		switch t := v.(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out[key] = s
			}
		case float64:
			out[key] = t
		case int:
			out[key] = float64(t)
		case json.Number:
			if f, err := t.Float64(); err == nil {
				out[key] = f
			} else {
				out[key] = t.String()
			}
		case bool:
			out[key] = strconv.FormatBool(t)
		default:
			if b, err := json.Marshal(t); err == nil {
				out[key] = string(b)
			}
		}
	}
	return out
}

// String returns the value for key as text.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

// Number returns the value for key as a float. ok is false when the key is
// absent; err is set when it is present but not numeric.
func (p Params) Number(key string) (n float64, ok bool, err error) {
	v, present := p[key]
	if !present {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return t, true, nil
	case string:
		f, perr := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if perr != nil {
			return 0, true, perr
		}
		return f, true, nil
	}
	return 0, true, strconv.ErrSyntax
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
