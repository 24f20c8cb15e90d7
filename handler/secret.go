package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"grievance-intake/internal/integrations/paramstore"
)

type secretPayload struct {
	Secret string `json:"secret"`
}

// sharedSecret checks a header value against a JSON {"secret": "..."}
// parameter. An empty parameter name disables the check.
type sharedSecret struct {
	params paramstore.Getter
	name   string
}

func (s sharedSecret) enabled() bool {
	return s.name != ""
}

func (s sharedSecret) matches(ctx context.Context, provided string) (bool, error) {
	if !s.enabled() {
		return true, nil
	}
	if s.params == nil {
		return false, errors.New("handler: no parameter source for shared secret")
	}
	raw, err := s.params.GetParameter(ctx, s.name)
	if err != nil {
		return false, fmt.Errorf("handler: load shared secret: %w", err)
	}
	var p secretPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return false, fmt.Errorf("handler: unmarshal shared secret: %w", err)
	}
	if p.Secret == "" {
		return false, errors.New("handler: shared secret is empty")
	}
	return subtle.ConstantTimeCompare([]byte(p.Secret), []byte(provided)) == 1, nil
}
