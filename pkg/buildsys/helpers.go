package buildsys

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// pathArg accepts a string or a path() result
func pathArg(value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	}

	return "", eris.Errorf("%s: got %s, want string or path", field, value.Type())
}

// stringList accepts a single string or path as well as any iterable of them
func stringList(value starlark.Value, field string) ([]string, error) {
	result := make([]string, 0)
	if value == nil || value == starlark.None {
		return result, nil
	}

	switch value.(type) {
	case starlark.String, StarlarkPath:
		item, err := pathArg(value, field)
		if err != nil {
			return nil, err
		}
		return append(result, item), nil
	}

	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, eris.Errorf("%s: got %s, want string or list", field, value.Type())
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var item starlark.Value
	for idx := 0; iter.Next(&item); idx++ {
		entry, err := pathArg(item, field+"["+strconv.Itoa(idx)+"]")
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}

	return result, nil
}

func taskName(value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case *Task:
		if value.Hidden {
			return "", eris.Errorf("%s: task %s is hidden and can't be referenced by name", field, value.Short)
		}
		return value.Short, nil
	}

	return "", eris.Errorf("%s: got %s, want string or task", field, value.Type())
}

// lookupKey walks a dotted key like "source-directories.0" through a decoded document
func lookupKey(doc interface{}, key string) (interface{}, bool) {
	if key == "" {
		return doc, doc != nil
	}

	value := doc
	for _, part := range strings.Split(key, ".") {
		switch node := value.(type) {
		case map[string]interface{}:
			value = node[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			value = node[idx]
		default:
			return nil, false
		}

		if value == nil {
			return nil, false
		}
	}

	return value, true
}

// toStarlark converts a decoded YAML or JSON value
func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, raw := range value {
			item, err := toStarlark(raw)
			if err != nil {
				return nil, err
			}
			items[idx] = item
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(value))
		for _, key := range keys {
			item, err := toStarlark(value[key])
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(starlark.String(key), item)
			if err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	return nil, eris.Errorf("unsupported value of type %T", value)
}
