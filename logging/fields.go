package logging

import "encoding/json"

const maxExtraBytes = 4096

var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"auth":          true,
	"credential":    true,
	"private_key":   true,
	"privatekey":    true,
	"localstorage":  true,
	"cookies":       true,
}

type Fields map[string]interface{}

func WithField(key string, value interface{}) Fields {
	return Fields{key: value}
}

func WithError(err error) Fields {
	if err == nil {
		return Fields{}
	}
	return Fields{"error": err.Error()}
}

func (f Fields) Merge(other Fields) Fields {
	for k, v := range other {
		f[k] = v
	}
	return f
}

func (f Fields) Sanitize() Fields {
	result := make(Fields, len(f))
	for k, v := range f {
		if sensitiveKeys[k] {
			result[k] = "[REDACTED]"
		} else {
			result[k] = v
		}
	}
	return result
}

// Bound enforces the extra-payload size ceiling. Oversized payloads are
// replaced with a marker rather than dropped, so the event itself survives.
func (f Fields) Bound() Fields {
	if len(f) == 0 {
		return f
	}
	data, err := json.Marshal(f)
	if err != nil {
		return Fields{"extra_error": "unserializable payload"}
	}
	if len(data) <= maxExtraBytes {
		return f
	}
	return Fields{
		"extra_truncated": true,
		"extra_bytes":     len(data),
	}
}
