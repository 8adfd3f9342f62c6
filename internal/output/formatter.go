// Package output renders command results as tables, JSON or YAML.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Formatter defines the interface for output formatting.
type Formatter interface {
	Format(data any) string
}

// Formats lists the accepted --output values
var Formats = []string{"table", "json", "yaml"}

// NewFormatter returns a Formatter for the given format string.
// Unknown formats fall back to "table".
func NewFormatter(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// TableFormatter formats data as aligned text tables using tabwriter.
// Column names come from the yaml tags so all three formats agree.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "No data.\n"
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return "No records found.\n"
		}
		elem := indirect(v.Index(0))
		if elem.Kind() != reflect.Struct {
			for i := 0; i < v.Len(); i++ {
				fmt.Fprintln(w, cell(v.Index(i)))
			}
			break
		}

		var headers []string
		for _, c := range columns(elem, "") {
			headers = append(headers, strings.ToUpper(c.name))
		}
		fmt.Fprintln(w, strings.Join(headers, "\t"))

		for i := 0; i < v.Len(); i++ {
			var vals []string
			for _, c := range columns(indirect(v.Index(i)), "") {
				vals = append(vals, c.value)
			}
			fmt.Fprintln(w, strings.Join(vals, "\t"))
		}

	case reflect.Struct:
		for _, c := range columns(v, "") {
			fmt.Fprintf(w, "%s:\t%s\n", c.name, c.value)
		}

	default:
		fmt.Fprintln(w, data)
	}

	w.Flush()
	return buf.String()
}

type column struct {
	name  string
	value string
}

// columns flattens exported fields, descending into nested structs other
// than time.Time with a dotted prefix.
func columns(v reflect.Value, prefix string) []column {
	var out []column
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := fieldName(field)
		if name == "-" {
			continue
		}
		fv := indirect(v.Field(i))
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			out = append(out, columns(fv, prefix+name+".")...)
			continue
		}
		out = append(out, column{name: prefix + name, value: cell(fv)})
	}
	return out
}

func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

func cell(v reflect.Value) string {
	if !v.IsValid() || ((v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil()) {
		return "-"
	}
	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Format("2006-01-02 15:04:05")
	case time.Duration:
		return x.String()
	case float64:
		return fmt.Sprintf("%.2f", x)
	case string:
		if x == "" {
			return "-"
		}
		return x
	}
	return fmt.Sprintf("%v", v.Interface())
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

// YAMLFormatter formats data as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return string(b)
}
