package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CleanArguments strips the markdown fences some models put around function
// arguments and checks that what remains is a JSON object. Values are left untouched.
func CleanArguments(raw []byte) ([]byte, error) {
	s := bytes.TrimSpace(raw)
	if bytes.HasPrefix(s, []byte("```")) {
		s = bytes.TrimPrefix(s, []byte("```"))
		if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
		s = bytes.TrimSpace(s)
	}
	if len(s) == 0 {
		return nil, fmt.Errorf("empty function arguments")
	}
	if s[0] != '{' || !json.Valid(s) {
		return nil, fmt.Errorf("function arguments are not a JSON object")
	}
	return s, nil
}
