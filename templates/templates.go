package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabeticChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars      = "0123456789"
	hexChars          = "0123456789abcdef"
)

// TemplateEngine renders handlebars templates used in test user inputs and
// stub bodies. Helper registration is global in raymond, so the engine is a
// process-wide singleton.
type TemplateEngine struct{}

var (
	templateEngineInstance *TemplateEngine
	templateEngineOnce     sync.Once
)

func NewTemplateEngine() *TemplateEngine {
	templateEngineOnce.Do(func() {
		registerHelpers()
		templateEngineInstance = &TemplateEngine{}
	})
	return templateEngineInstance
}

// Render substitutes variables into a handlebars template.
func (e *TemplateEngine) Render(template string, variables map[string]string) (string, error) {
	ctx := make(map[string]interface{}, len(variables))
	for k, v := range variables {
		ctx[k] = v
	}
	result, err := raymond.Render(template, ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return result, nil
}

var templateRefPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Unresolved returns template variable references that are neither defined
// in variables nor registered helpers. Checked before any network I/O so a
// typo fails the test as a configuration error, not a bad request.
func (e *TemplateEngine) Unresolved(template string, variables map[string]string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, groups := range templateRefPattern.FindAllStringSubmatch(template, -1) {
		name := groups[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := variables[name]; ok {
			continue
		}
		if helperNames[name] {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

// helperNames lists zero-argument-callable helpers so Unresolved does not
// flag {{uuid}} or {{now}} as missing variables.
var helperNames = map[string]bool{
	"randomValue":   true,
	"randomInt":     true,
	"randomDecimal": true,
	"now":           true,
	"uuid":          true,
	"faker":         true,
}

func registerHelpers() {
	raymond.RegisterHelper("uuid", func() string {
		return uuid.New().String()
	})

	raymond.RegisterHelper("randomValue", func(options *raymond.Options) string {
		randomType := strings.ToUpper(options.HashStr("type"))
		if randomType == "" {
			randomType = "ALPHANUMERIC"
		}
		if randomType == "UUID" {
			return uuid.New().String()
		}

		length := 10
		if lengthVal := options.HashProp("length"); lengthVal != nil {
			length = toInt(lengthVal)
		}

		var charset string
		switch randomType {
		case "ALPHABETIC":
			charset = alphabeticChars
		case "NUMERIC":
			charset = numericChars
		case "HEXADECIMAL":
			charset = hexChars
		default:
			charset = alphanumericChars
		}

		result := generateRandomString(charset, length)
		if raymond.IsTrue(options.HashProp("uppercase")) {
			result = strings.ToUpper(result)
		}
		return result
	})

	raymond.RegisterHelper("randomInt", func(options *raymond.Options) string {
		lower, upper := 0, 100
		if lowerVal := options.HashProp("lower"); lowerVal != nil {
			lower = toInt(lowerVal)
		}
		if upperVal := options.HashProp("upper"); upperVal != nil {
			upper = toInt(upperVal)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		num, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
		if err != nil {
			return "0"
		}
		return strconv.Itoa(int(num.Int64()) + lower)
	})

	raymond.RegisterHelper("randomDecimal", func(options *raymond.Options) string {
		lower, upper := 0.0, 100.0
		if lowerVal := options.HashProp("lower"); lowerVal != nil {
			lower = toFloat(lowerVal)
		}
		if upperVal := options.HashProp("upper"); upperVal != nil {
			upper = toFloat(upperVal)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		num, err := rand.Int(rand.Reader, big.NewInt(1<<53))
		if err != nil {
			return "0"
		}
		normalized := float64(num.Int64()) / float64(int64(1)<<53)
		return fmt.Sprintf("%.2f", lower+normalized*(upper-lower))
	})

	raymond.RegisterHelper("now", func(options *raymond.Options) string {
		now := time.Now().UTC()

		if offsetStr := options.HashStr("offset"); offsetStr != "" {
			if offset, err := ParseOffset(offsetStr); err == nil {
				now = now.Add(offset)
			}
		}
		if tzStr := options.HashStr("timezone"); tzStr != "" {
			if loc, err := time.LoadLocation(tzStr); err == nil {
				now = now.In(loc)
			}
		}

		switch format := options.HashStr("format"); format {
		case "epoch":
			return strconv.FormatInt(now.UnixMilli(), 10)
		case "unix":
			return strconv.FormatInt(now.Unix(), 10)
		case "":
			return now.Format(time.RFC3339)
		default:
			return now.Format(format)
		}
	})

	raymond.RegisterHelper("faker", func(key string) string {
		r := gofakeit.New(0)

		category, sub, _ := strings.Cut(key, ".")
		switch category {
		case "Name":
			switch sub {
			case "first_name":
				return r.FirstName()
			case "last_name":
				return r.LastName()
			case "full_name":
				return r.Name()
			}
		case "Address":
			switch sub {
			case "street":
				return r.Street()
			case "city":
				return r.City()
			case "state":
				return r.State()
			case "country":
				return r.Country()
			case "postcode":
				return r.Zip()
			}
		case "Internet":
			switch sub {
			case "email":
				return r.Email()
			case "username":
				return r.Username()
			case "url":
				return r.URL()
			case "ipv4":
				return r.IPv4Address()
			}
		case "Company":
			switch sub {
			case "name":
				return r.Company()
			case "profession":
				return r.JobTitle()
			}
		case "Lorem":
			switch sub {
			case "word":
				return r.Word()
			case "sentence":
				return r.Sentence(5)
			}
		case "Misc":
			switch sub {
			case "uuid":
				return r.UUID()
			case "boolean":
				return strconv.FormatBool(r.Bool())
			case "date":
				return r.Date().Format("2006-01-02")
			}
		}
		return ""
	})
}

// generateRandomString generates a cryptographically secure random string
func generateRandomString(charset string, length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return ""
		}
		result[i] = charset[num.Int64()]
	}

	return string(result)
}

func toInt(val interface{}) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		result, _ := strconv.Atoi(v)
		return result
	default:
		return 0
	}
}

func toFloat(val interface{}) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		result, _ := strconv.ParseFloat(v, 64)
		return result
	default:
		return 0.0
	}
}

// ParseOffset parses offset strings like "3 days", "-24 seconds", "1 year"
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format")
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}

	unit := strings.TrimSuffix(strings.ToLower(parts[1]), "s")
	switch unit {
	case "second":
		return time.Duration(value) * time.Second, nil
	case "minute":
		return time.Duration(value) * time.Minute, nil
	case "hour":
		return time.Duration(value) * time.Hour, nil
	case "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}
