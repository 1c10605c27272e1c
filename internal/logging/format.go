package logging

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/sysdaemon/internal/domain"
)

const (
	timeLayout  = "Jan 02 15:04:05"
	levelWidth  = 8
	abbrevLimit = 30
	abbrevMark  = "..."
)

// Severities sit below zap's ErrorLevel so that a more severe record is a higher
// zap level: emerg=2 ... debug=-5. None of them collide with DPanic/Panic/Fatal.
func zapLevel(s domain.Severity) zapcore.Level {
	return zapcore.Level(int8(zapcore.ErrorLevel) - int8(s))
}

func severityOf(l zapcore.Level) domain.Severity {
	return domain.Severity(int8(zapcore.ErrorLevel) - int8(l))
}

// encoderConfig renders "[Jan 02 15:04:05]     info: message".
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    "time",
		LevelKey:   "level",
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format(timeLayout) + "]")
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%*s:", levelWidth, severityOf(l)))
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

// Interpolate fills the positional verbs of format with semantified values.
func Interpolate(format string, values ...any) string {
	if len(values) == 0 {
		return format
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = Semantify(v)
	}
	return fmt.Sprintf(format, args...)
}

// Semantify renders a value for a log line: numbers and booleans as-is, strings quoted,
// maps and slices as "key: value" pairs, anything else by its type name.
func Semantify(v any) string {
	if v == nil {
		return "''"
	}
	if err, ok := v.(error); ok {
		return quote(err.Error())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%v: %s", k.Interface(), element(rv.MapIndex(k).Interface())))
		}
		return strings.Join(pairs, ", ")
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return quote(fmt.Sprintf("%s", v))
		}
		pairs := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			pairs = append(pairs, fmt.Sprintf("%d: %s", i, element(rv.Index(i).Interface())))
		}
		return strings.Join(pairs, ", ")
	}
	if s, ok := scalar(rv); ok {
		return s
	}
	return reflect.TypeOf(v).String()
}

func scalar(rv reflect.Value) (string, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	case reflect.String:
		return quote(rv.String()), true
	}
	return "", false
}

// element renders one map/slice member, JSON-encoding nested containers.
func element(v any) string {
	if v == nil {
		return "''"
	}
	rv := reflect.ValueOf(v)
	var s string
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		b, err := json.Marshal(v)
		if err != nil {
			s = rv.Type().String()
		} else {
			s = string(b)
		}
	default:
		if sc, ok := scalar(rv); ok {
			s = sc
		} else {
			s = Semantify(v)
		}
	}
	return abbreviate(s)
}

// quote wraps non-numeric strings in single quotes.
func quote(s string) string {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s
	}
	return "'" + s + "'"
}

func abbreviate(s string) string {
	if len(s) <= abbrevLimit {
		return s
	}
	return s[:abbrevLimit-len(abbrevMark)] + abbrevMark
}
