/*
Package req binds HTTP request bodies into Go values and maps decoding problems to errs codes.
*/
package req

import (
	"encoding/json"
	"net/http"
	"strings"

	"collabsync/internal/pkg/errs"
)

// MaxJSONBodySize bounds JSON request bodies (64 KB); session API bodies are tiny.
const MaxJSONBodySize int64 = 64 << 10

// BindJSON decodes the JSON body of r into dst. Unknown fields, trailing data, a wrong
// Content-Type and oversized bodies are rejected.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}
