package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
)

const maxCallbackBody = 64 << 10

// readFields flattens a gateway callback into string fields. JSON bodies must
// be a single object of scalars; form bodies and query strings are taken as is.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	if r.Method == http.MethodGet || r.Body == nil {
		return fields, nil
	}

	body := http.MaxBytesReader(w, r.Body, maxCallbackBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		r.Body = body
		if err := r.ParseForm(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid form body")
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}
		return fields, nil
	default:
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read callback body")
		}
		if len(raw) == 0 {
			return fields, nil
		}
		if err := decodeJSONFields(raw, fields); err != nil {
			return nil, err
		}
		return fields, nil
	}
}

func decodeJSONFields(raw []byte, fields map[string]string) error {
	var payload map[string]any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback body")
	}
	for key, value := range payload {
		switch v := value.(type) {
		case nil:
		case string:
			fields[key] = v
		case json.Number:
			fields[key] = v.String()
		case bool:
			fields[key] = strconv.FormatBool(v)
		default:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("callback field %q must be a scalar", key))
		}
	}
	return nil
}
