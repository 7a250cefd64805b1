package config

// Secret is a string that redacts itself when printed or serialized. API
// keys ride the core document into logs and outbound events; typing them as
// Secret means a stray %v or a marshaled config can never leak one. Use
// string(s) at the call site that actually needs the value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString redacts %#v formatting as well.
func (s Secret) GoString() string {
	return `"[REDACTED]"`
}

// MarshalYAML redacts secrets in marshaled YAML.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return "[REDACTED]", nil
}

// MarshalJSON redacts secrets in marshaled JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
