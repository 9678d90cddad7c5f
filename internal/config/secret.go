package config

// Secret is a string type that redacts itself when printed or marshaled,
// so an API key or secret can flow through Config/log fields without ever
// reaching a log line or persisted JSON blob in the clear.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
