package pipeline

import "gopkg.in/yaml.v3"

// yamlUnmarshal wraps yaml.Unmarshal so ParseSpec's signature does not
// leak the concrete YAML library to callers.
func yamlUnmarshal(data []byte, v any) error {
	return yaml.Unmarshal(data, v)
}
