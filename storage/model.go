package storage

import (
	"reflect"
	"strings"
	"sync"

	"github.com/dpup/obsidian/errors"
	pluralize "github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

var (
	pluralizer = pluralize.NewClient()
	modelNames sync.Map // reflect.Type -> string
)

// Model is a record that can be persisted.
type Model interface {
	// PK returns the primary key that the record is stored under.
	PK() string
}

// Namer lets a model override the collection it is stored in.
type Namer interface {
	Name() string
}

// Name returns the collection name of a model: the snake cased, pluralized
// struct name unless the model implements Namer.
func Name(m any) string {
	if n, ok := m.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if n, ok := modelNames.Load(t); ok {
		return n.(string)
	}
	n := pluralizer.Plural(strcase.ToSnake(t.Name()))
	modelNames.Store(t, n)
	return n
}

// ValidateReceiver returns an error if the model is nil or a nil pointer.
func ValidateReceiver(model Model) error {
	if model == nil {
		return errors.Mark(ErrNilModel, 0)
	}
	v := reflect.ValueOf(model)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return errors.Mark(ErrNilModel, 0)
	}
	return nil
}

// FilterField is one constraint extracted from a List filter.
type FilterField struct {
	// Index of the struct field.
	Index int
	// Key is the JSON key the field is serialized under.
	Key string
	// Value is the comparison value, dereferenced for pointer fields.
	Value any
}

// FilterFields returns the constraints expressed by filter: every non-zero
// field and every non-nil pointer field.
func FilterFields(filter Model) []FilterField {
	v := reflect.Indirect(reflect.ValueOf(filter))
	t := v.Type()
	var out []FilterField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Pointer, reflect.Interface:
			if f.IsNil() {
				continue
			}
			out = append(out, FilterField{Index: i, Key: jsonKey(sf), Value: f.Elem().Interface()})
		case reflect.Slice, reflect.Map:
			// Collections are not filterable.
		default:
			if f.IsZero() {
				continue
			}
			out = append(out, FilterField{Index: i, Key: jsonKey(sf), Value: f.Interface()})
		}
	}
	return out
}

// ListTarget validates the arguments of List and returns the slice value and
// its element type.
func ListTarget(models any, filter Model) (reflect.Value, reflect.Type, error) {
	mv := reflect.ValueOf(models)
	if mv.Kind() != reflect.Pointer || mv.Elem().Kind() != reflect.Slice {
		return reflect.Value{}, nil, errors.Mark(ErrSliceRequired, 0)
	}
	slice := mv.Elem()
	elem := slice.Type().Elem()
	if elem != reflect.TypeOf(filter) {
		return reflect.Value{}, nil, errors.Mark(ErrTypeMismatch, 0)
	}
	return slice, elem, nil
}

func jsonKey(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
		return name
	}
	return sf.Name
}
