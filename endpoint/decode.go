package endpoint

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// defaultBodyLimit caps how much of a request body Unmarshal will read.
// A var (not const) so callers can override it if needed.
var defaultBodyLimit int64 = 4 << 20 // 4MB

// defaultFieldLimit caps the byte length of individual query/header values.
var defaultFieldLimit = 16 * 1024 // 16KB

// Unmarshal populates dst (a non-nil pointer to struct) from the request.
//
// Supported sources and struct tags:
//   - `query:"name[,flag]"`: r.URL.Query()
//   - `header:"name[,flag]"`: r.Header
//   - `body:"[,flag]"`: the full request body
//
// Where name defaults to the lowercased field name, and flag may be:
//   - base64 | base64url: decode a []byte field from base64
//   - json: decode the value as JSON into the field
//
// Body fields must be []byte or string unless the json flag is given.
// Fields with no matching request data are left at their zero value.
// Individual query/header values are limited to 16KB unless the field
// carries a `maxLength:"n"` tag (0 disables the limit).
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return newEndpointError(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := root.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		fv := root.Field(i)
		defaultName := strings.ToLower(sf.Name)

		maxLen := defaultFieldLimit
		if tag, ok := sf.Tag.Lookup("maxLength"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(tag))
			if err != nil || n < 0 {
				return newEndpointError(http.StatusInternalServerError, "",
					fmt.Errorf("endpoint: decode: field %s: bad maxLength tag %q", sf.Name, tag))
			}
			maxLen = n
		}

		if name, flag, ok := sourceTag(sf, "query", defaultName); ok {
			vals, exists := r.URL.Query()[name]
			if exists && len(vals) > 0 {
				if err := setField(fv, sf.Name, vals, flag, maxLen); err != nil {
					return err
				}
			}
			continue
		}
		if name, flag, ok := sourceTag(sf, "header", defaultName); ok {
			vals := r.Header.Values(name)
			if len(vals) > 0 {
				if err := setField(fv, sf.Name, vals, flag, maxLen); err != nil {
					return err
				}
			}
			continue
		}
		if _, flag, ok := sourceTag(sf, "body", defaultName); ok {
			raw, err := readBody(r)
			if err != nil {
				return err
			}
			if err := setBodyField(fv, sf.Name, raw, flag); err != nil {
				return err
			}
			continue
		}
	}
	return nil
}

// sourceTag parses a `source:"name[,flag]"` tag. A tag value of "-"
// disables the source for the field.
func sourceTag(sf reflect.StructField, source, defaultName string) (name, flag string, ok bool) {
	tag, exists := sf.Tag.Lookup(source)
	if !exists || tag == "-" {
		return "", "", false
	}
	parts := strings.SplitN(tag, ",", 2)
	name = strings.TrimSpace(parts[0])
	if name == "" {
		name = defaultName
	}
	if len(parts) == 2 {
		flag = strings.TrimSpace(parts[1])
	}
	return name, flag, true
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, defaultBodyLimit+1))
	if err != nil {
		return nil, newEndpointError(http.StatusBadRequest, "", fmt.Errorf("read body: %w", err))
	}
	if int64(len(raw)) > defaultBodyLimit {
		return nil, newEndpointError(http.StatusRequestEntityTooLarge, "request body too large", nil)
	}
	return raw, nil
}

func setBodyField(fv reflect.Value, fieldName string, raw []byte, flag string) error {
	switch flag {
	case "json":
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, fv.Addr().Interface()); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode body json: %w", err))
		}
		return nil
	case "", "base64", "base64url":
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(string(raw))
			return nil
		case reflect.Slice:
			if fv.Type().Elem().Kind() == reflect.Uint8 {
				b := raw
				if flag != "" {
					var err error
					b, err = decodeBytes(strings.TrimSpace(string(raw)), flag)
					if err != nil {
						return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode body: %w", err))
					}
				}
				fv.SetBytes(b)
				return nil
			}
		}
		return newEndpointError(http.StatusInternalServerError, "",
			fmt.Errorf("endpoint: decode: field %s: body fields must be []byte, string, or tagged json", fieldName))
	default:
		return newEndpointError(http.StatusInternalServerError, "",
			fmt.Errorf("endpoint: decode: field %s: unknown body flag %q", fieldName, flag))
	}
}

// setField assigns query/header values to a struct field.
func setField(fv reflect.Value, fieldName string, vals []string, flag string, maxLen int) error {
	for _, v := range vals {
		if maxLen > 0 && len(v) > maxLen {
			return newEndpointError(http.StatusBadRequest,
				fmt.Sprintf("value for %s exceeds maximum length", strings.ToLower(fieldName)), nil)
		}
	}
	val := vals[0]

	if flag == "json" {
		if err := json.Unmarshal([]byte(val), fv.Addr().Interface()); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		return nil
	}

	// encoding.TextUnmarshaler takes precedence over kind-based decoding.
	if tu, ok := fv.Addr().Interface().(encoding.TextUnmarshaler); ok {
		if err := tu.UnmarshalText([]byte(val)); err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		return nil
	}

	// time.Duration before the generic int kinds.
	if fv.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(val)
		if err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(val)
	case reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(val, 10, fv.Type().Bits())
		if err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(val, 10, fv.Type().Bits())
		if err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(val, fv.Type().Bits())
		if err != nil {
			return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
		}
		fv.SetFloat(f)
	case reflect.Slice:
		switch fv.Type().Elem().Kind() {
		case reflect.String:
			fv.Set(reflect.ValueOf(append([]string(nil), vals...)))
		case reflect.Uint8:
			b, err := decodeBytes(val, flag)
			if err != nil {
				return newEndpointError(http.StatusBadRequest, "", fmt.Errorf("decode %s: %w", fieldName, err))
			}
			fv.SetBytes(b)
		default:
			return newEndpointError(http.StatusInternalServerError, "",
				fmt.Errorf("endpoint: decode: field %s: unsupported slice type", fieldName))
		}
	default:
		return newEndpointError(http.StatusInternalServerError, "",
			fmt.Errorf("endpoint: decode: field %s: unsupported type %s", fieldName, fv.Type()))
	}
	return nil
}

func decodeBytes(val, flag string) ([]byte, error) {
	switch flag {
	case "base64":
		return base64.StdEncoding.DecodeString(val)
	case "base64url":
		return base64.RawURLEncoding.DecodeString(val)
	case "":
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("unknown flag %q", flag)
	}
}
