package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const defaultBodyLimit = 64 << 10

var errTrailingData = errors.New("httpx: request body has trailing data")

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// DecodeJSON reads one JSON value of at most limit bytes into dst. Unknown
// fields and trailing values are rejected; an empty body leaves dst untouched.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	switch err := dec.Decode(dst); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}
