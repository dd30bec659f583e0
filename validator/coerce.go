package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"mime"
	"net/mail"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cbnsndwch/struktura/schema"
)

// Coercer converts a raw input value into the canonical value shape of a
// field type. Coercers are idempotent: coercing an already coerced value
// returns an equal value.
type Coercer func(v any) (any, error)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]+$`)

// CoercerFor returns the coercer for a field definition.
func CoercerFor(def schema.FieldDefinition) Coercer {
	switch def.Type {
	case schema.TypeText:
		return coerceText
	case schema.TypeEmail:
		return coerceEmail
	case schema.TypeURL:
		return coerceURL
	case schema.TypePhone:
		return coercePhone
	case schema.TypeNumber, schema.TypePercent, schema.TypeCurrency:
		return numberCoercer(precisionOf(def.Options))
	case schema.TypeBoolean:
		return coerceBool
	case schema.TypeDate:
		return coerceDate
	case schema.TypeDateTime:
		return coerceDateTime
	case schema.TypeSelect:
		opts, _ := def.Options.(*schema.SelectOptions)
		return selectCoercer(opts)
	case schema.TypeMultiSelect:
		opts, _ := def.Options.(*schema.SelectOptions)
		return multiSelectCoercer(opts)
	case schema.TypeAttachment, schema.TypeImage:
		opts, _ := def.Options.(*schema.FileOptions)
		return fileCoercer(opts, def.Type == schema.TypeImage)
	case schema.TypeReference:
		return coerceReference
	case schema.TypeJSON:
		return coerceJSON
	case schema.TypeArray:
		return coerceArray
	case schema.TypeObject:
		return coerceObject
	}
	return func(any) (any, error) {
		return nil, fmt.Errorf("%s fields are computed and cannot be written", def.Type)
	}
}

func precisionOf(o schema.Options) *int {
	switch v := o.(type) {
	case *schema.NumberOptions:
		return v.Precision
	case *schema.CurrencyOptions:
		return v.Precision
	}
	return nil
}

func coerceText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case json.Number:
		return x.String(), nil
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("expected text, got %s", kindOf(v))
}

func coerceEmail(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected an email address, got %s", kindOf(v))
	}
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return nil, fmt.Errorf("%q is not a valid email address", s)
	}
	return s, nil
}

func coerceURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a URL, got %s", kindOf(v))
	}
	s = strings.TrimSpace(s)
	u, err := url.ParseRequestURI(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q is not a valid http(s) URL", s)
	}
	return s, nil
}

func coercePhone(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a phone number, got %s", kindOf(v))
	}
	s = strings.TrimSpace(s)
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if !phonePattern.MatchString(s) || digits < 7 || digits > 15 {
		return nil, fmt.Errorf("%q is not a valid phone number", s)
	}
	return s, nil
}

func numberCoercer(precision *int) Coercer {
	return func(v any) (any, error) {
		f, ok := toFloat(v)
		if !ok {
			s, isString := v.(string)
			if !isString {
				return nil, fmt.Errorf("expected a number, got %s", kindOf(v))
			}
			parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", s)
			}
			f = parsed
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%v is not a finite number", f)
		}
		if precision != nil {
			pow := math.Pow(10, float64(*precision))
			// values too large to scale have no fractional digits to round
			if scaled := f * pow; !math.IsInf(scaled, 0) {
				f = math.Round(scaled) / pow
			}
		}
		return f, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func coerceBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", x)
	}
	if f, ok := toFloat(v); ok && (f == 0 || f == 1) {
		return f == 1, nil
	}
	return nil, fmt.Errorf("expected a boolean, got %s", kindOf(v))
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses the ISO-8601 forms accepted for date and datetime fields.
// Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 date", s)
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x != nil {
			return x.UTC(), nil
		}
	case string:
		return ParseTime(x)
	}
	return time.Time{}, fmt.Errorf("expected a date, got %s", kindOf(v))
}

func coerceDate(v any) (any, error) {
	t, err := toTime(v)
	if err != nil {
		return nil, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func coerceDateTime(v any) (any, error) {
	return toTime(v)
}

func selectCoercer(opts *schema.SelectOptions) Coercer {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a choice, got %s", kindOf(v))
		}
		s = strings.TrimSpace(s)
		if opts != nil && opts.Index(s) < 0 {
			return nil, fmt.Errorf("%q is not one of the allowed choices", s)
		}
		return s, nil
	}
}

func multiSelectCoercer(opts *schema.SelectOptions) Coercer {
	return func(v any) (any, error) {
		var items []string
		switch x := v.(type) {
		case string:
			items = []string{x}
		case []string:
			items = x
		case []any:
			for _, e := range x {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("expected a list of choices, found %s", kindOf(e))
				}
				items = append(items, s)
			}
		default:
			return nil, fmt.Errorf("expected a list of choices, got %s", kindOf(v))
		}
		out := make([]string, 0, len(items))
		seen := map[string]bool{}
		for _, s := range items {
			s = strings.TrimSpace(s)
			if opts != nil && opts.Index(s) < 0 {
				return nil, fmt.Errorf("%q is not one of the allowed choices", s)
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		return out, nil
	}
}

func fileCoercer(opts *schema.FileOptions, image bool) Coercer {
	return func(v any) (any, error) {
		var raw []any
		switch x := v.(type) {
		case []schema.File:
			for _, f := range x {
				raw = append(raw, f)
			}
		case schema.File, map[string]any:
			raw = []any{x}
		case []any:
			raw = x
		default:
			return nil, fmt.Errorf("expected a list of files, got %s", kindOf(v))
		}
		files := make([]schema.File, 0, len(raw))
		for _, item := range raw {
			f, err := toFile(item)
			if err != nil {
				return nil, err
			}
			if f.MimeType == "" {
				f.MimeType = mime.TypeByExtension(path.Ext(f.Name))
			}
			if image && !strings.HasPrefix(f.MimeType, "image/") {
				return nil, fmt.Errorf("%s is not an image", f.Name)
			}
			if opts != nil {
				if len(opts.AllowedTypes) > 0 && !mimeAllowed(f.MimeType, opts.AllowedTypes) {
					return nil, fmt.Errorf("%s has disallowed type %q", f.Name, f.MimeType)
				}
				if opts.MaxSize > 0 && f.Size > opts.MaxSize {
					return nil, fmt.Errorf("%s exceeds the maximum size of %d bytes", f.Name, opts.MaxSize)
				}
			}
			files = append(files, f)
		}
		if opts != nil && opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
			return nil, fmt.Errorf("at most %d files are allowed", opts.MaxFiles)
		}
		return files, nil
	}
}

func toFile(v any) (schema.File, error) {
	switch x := v.(type) {
	case schema.File:
		if x.Name == "" || x.URL == "" {
			return schema.File{}, fmt.Errorf("files need a name and a url")
		}
		return x, nil
	case map[string]any:
		f := schema.File{}
		f.Name, _ = x["name"].(string)
		f.URL, _ = x["url"].(string)
		f.MimeType, _ = x["mimeType"].(string)
		if size, ok := toFloat(x["size"]); ok {
			f.Size = int64(size)
		}
		return toFile(f)
	}
	return schema.File{}, fmt.Errorf("expected a file object, got %s", kindOf(v))
}

func mimeAllowed(mimeType string, allowed []string) bool {
	for _, a := range allowed {
		if a == mimeType {
			return true
		}
		if strings.HasSuffix(a, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(a, "*")) {
			return true
		}
	}
	return false
}

func coerceReference(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s, nil
		}
	case map[string]any:
		if id, ok := x["id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return nil, fmt.Errorf("expected a record id, got %s", kindOf(v))
}

func coerceJSON(v any) (any, error) {
	if _, err := json.Marshal(v); err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %v", err)
	}
	return schema.CloneValue(v), nil
}

func coerceArray(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		return schema.CloneValue(x), nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list, got %s", kindOf(v))
}

func coerceObject(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		return schema.CloneValue(x), nil
	case schema.Record:
		return map[string]any(x.Clone()), nil
	}
	return nil, fmt.Errorf("expected an object, got %s", kindOf(v))
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "text"
	case bool:
		return "a boolean"
	case []any, []string:
		return "a list"
	case map[string]any:
		return "an object"
	}
	if _, ok := toFloat(v); ok {
		return "a number"
	}
	return fmt.Sprintf("%T", v)
}
