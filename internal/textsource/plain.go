package textsource

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"
)

type plainParser struct{}

func (plainParser) parse(_ context.Context, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return strings.ToValidUTF8(string(b), ""), nil
	}
	return string(b), nil
}
