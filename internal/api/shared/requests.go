package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// ErrEmptyBody is returned for requests without a body.
var ErrEmptyBody = errors.New("request body is empty")

var validate = validator.New()

// DecodeJSON decodes the request body into the given struct. Unknown fields
// and trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}

// ValidateRequest checks struct tags, then any cross-field rules the type
// declares through a Validate method.
func ValidateRequest(v any) error {
	if err := validate.Struct(v); err != nil {
		return err
	}
	if c, ok := v.(interface{ Validate() error }); ok {
		return c.Validate()
	}
	return nil
}
