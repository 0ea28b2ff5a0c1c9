package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/healthtrack/healthtrack-go/internal/crypto"
	"github.com/healthtrack/healthtrack-go/internal/model"
)

var ErrImportDecode = errors.New("payload is neither an encrypted envelope nor a backup document")

// Decode interprets an uploaded payload. Three shapes are accepted: the
// export response ({filename, fileContent}), an encrypted envelope, and a
// plain backup document. An envelope that cannot be decrypted is still
// tried as a plain document before the payload is rejected.
func Decode(payload []byte, password string) (model.Document, error) {
	probe, err := objectFields(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportDecode, err)
	}

	if inner, ok, err := unwrapExport(probe); ok {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportDecode, err)
		}
		if probe, err = objectFields(inner); err != nil {
			return nil, fmt.Errorf("%w: fileContent: %v", ErrImportDecode, err)
		}
	}

	var cause error
	if env, ok := envelopeOf(probe); ok {
		doc, err := decryptDocument(env, password)
		if err == nil {
			return doc, nil
		}
		cause = err
	}

	doc, err := documentOf(probe)
	if err == nil {
		return doc, nil
	}
	if cause != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportDecode, cause)
	}
	return nil, fmt.Errorf("%w: %v", ErrImportDecode, err)
}

func objectFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("payload is null")
	}
	return fields, nil
}

// unwrapExport returns the envelope JSON carried by an export response.
func unwrapExport(fields map[string]json.RawMessage) ([]byte, bool, error) {
	raw, ok := fields["fileContent"]
	if !ok {
		return nil, false, nil
	}
	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, false, nil
	}
	inner, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, true, fmt.Errorf("fileContent is not base64: %w", err)
	}
	return inner, true, nil
}

func envelopeOf(fields map[string]json.RawMessage) (crypto.Envelope, bool) {
	for _, k := range []string{"salt", "iv", "data"} {
		if _, ok := fields[k]; !ok {
			return crypto.Envelope{}, false
		}
	}
	var env crypto.Envelope
	if json.Unmarshal(fields["salt"], &env.Salt) != nil ||
		json.Unmarshal(fields["iv"], &env.IV) != nil ||
		json.Unmarshal(fields["data"], &env.Ciphertext) != nil {
		return crypto.Envelope{}, false
	}
	return env, env.LooksLikeEnvelope()
}

func decryptDocument(env crypto.Envelope, password string) (model.Document, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}
	plaintext, err := crypto.Decrypt(env, password)
	if err != nil {
		return nil, err
	}
	fields, err := objectFields(plaintext)
	if err != nil {
		return nil, fmt.Errorf("decrypted payload: %w", err)
	}
	return documentOf(fields)
}

// documentOf requires every value to be a table snapshot. A null content
// list is an empty table.
func documentOf(fields map[string]json.RawMessage) (model.Document, error) {
	if len(fields) == 0 {
		return nil, errors.New("document has no tables")
	}

	doc := make(model.Document, len(fields))
	for name, raw := range fields {
		var snap map[string]json.RawMessage
		if err := json.Unmarshal(raw, &snap); err != nil || snap == nil {
			return nil, fmt.Errorf("table %q is not an object", name)
		}
		content, ok := snap["content"]
		if !ok {
			return nil, fmt.Errorf("table %q has no content", name)
		}

		var rows []model.Row
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		if rows == nil {
			rows = []model.Row{}
		}
		doc[name] = model.TableSnapshot{Content: rows}
	}
	return doc, nil
}
