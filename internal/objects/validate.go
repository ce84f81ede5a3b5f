package objects

import (
	"fmt"
	"strings"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// ReservedPrefix marks system fields. Only the fields named in ir may use it.
const ReservedPrefix = "_"

// Validate checks a client object written by identity.
//
// Reserved fields must be well-typed: _id a string, _by equal to identity,
// _to a list of strings, _timestamp a number. No other key, at any depth,
// may start with the reserved prefix or with "$".
func Validate(obj ir.Object, identity string) error {
	if obj == nil {
		return errs.Validation("object is required")
	}

	for _, key := range obj.SortedKeys() {
		value := obj[key]
		switch key {
		case ir.FieldID:
			id, ok := value.(ir.String)
			if !ok {
				return errs.Validation("%s must be a string", ir.FieldID)
			}
			if id == "" {
				return errs.Validation("%s must not be empty", ir.FieldID)
			}

		case ir.FieldBy:
			by, ok := value.(ir.String)
			if !ok || string(by) != identity {
				return errs.Authorization("you can only write objects %s yourself", ir.FieldBy)
			}

		case ir.FieldTo:
			arr, ok := value.(ir.Array)
			if !ok {
				return errs.Validation("%s must be a list of ids", ir.FieldTo)
			}
			for _, elem := range arr {
				if _, ok := elem.(ir.String); !ok {
					return errs.Validation("%s contains an invalid id of type %s", ir.FieldTo, ir.TypeName(elem))
				}
			}

		case ir.FieldTimestamp:
			if _, ok := value.(ir.Number); !ok {
				return errs.Validation("%s must be a number", ir.FieldTimestamp)
			}

		default:
			if err := checkKey(key, key); err != nil {
				return err
			}
			if err := checkNested(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkKey rejects key, found at path, if it uses a reserved prefix.
func checkKey(path, key string) error {
	if strings.HasPrefix(key, ReservedPrefix) {
		return errs.Validation("%q: fields starting with %q are reserved", path, ReservedPrefix)
	}
	if strings.HasPrefix(key, "$") {
		return errs.Validation("%q: fields starting with \"$\" are not allowed", path)
	}
	return nil
}

// checkNested applies checkKey to every key below path.
func checkNested(path string, value ir.Value) error {
	switch v := value.(type) {
	case ir.Object:
		for _, key := range v.SortedKeys() {
			child := path + "." + key
			if err := checkKey(child, key); err != nil {
				return err
			}
			if err := checkNested(child, v[key]); err != nil {
				return err
			}
		}
	case ir.Array:
		for i, elem := range v {
			if err := checkNested(fmt.Sprintf("%s.%d", path, i), elem); err != nil {
				return err
			}
		}
	}
	return nil
}
