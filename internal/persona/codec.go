package persona

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// field is one member of a JSON object, kept in document order.
type field struct {
	Key   string
	Value json.RawMessage
}

// decodeObject reads a JSON object without losing member order, so custom
// personas come back in registration order.
func decodeObject(raw string) ([]field, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected JSON object")
	}
	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.New("expected object key")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeObject(fields []field) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return "", err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// nameEntry is the stored shape of one custom persona.
type nameEntry struct {
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

// decodeNameEntry accepts the current {name, avatarUrl} shape and the older
// bare display-name string. legacy reports the latter.
func decodeNameEntry(raw json.RawMessage) (entry nameEntry, legacy bool, err error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return nameEntry{Name: name}, true, nil
	}
	var obj struct {
		Name            string  `json:"name"`
		AvatarURL       *string `json:"avatarUrl"`
		CustomAvatarURL *string `json:"customAvatarUrl"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nameEntry{}, false, err
	}
	if obj.AvatarURL == nil {
		obj.AvatarURL = obj.CustomAvatarURL
	}
	return nameEntry{Name: obj.Name, AvatarURL: obj.AvatarURL}, false, nil
}

func encodeNameEntry(p Persona) json.RawMessage {
	e := nameEntry{Name: p.DisplayName}
	if p.AvatarURL != "" {
		avatar := p.AvatarURL
		e.AvatarURL = &avatar
	}
	b, _ := json.Marshal(e)
	return b
}
