package vm

import (
	"fmt"
	"strings"
)

// parseMethodDescriptor splits a method descriptor into the field
// descriptors of its parameters and of its return type.
func parseMethodDescriptor(descriptor string) ([]string, string, error) {
	// Parse between ( and )
	start := strings.Index(descriptor, "(")
	end := strings.Index(descriptor, ")")
	if start != 0 || end == -1 {
		return nil, "", fmt.Errorf("invalid method descriptor: %s", descriptor)
	}

	var params []string
	for i := 1; i < end; {
		next, err := fieldTypeEnd(descriptor[:end], i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, descriptor[i:next])
		i = next
	}

	ret := descriptor[end+1:]
	if ret != "V" {
		next, err := fieldTypeEnd(ret, 0)
		if err != nil || next != len(ret) {
			return nil, "", fmt.Errorf("invalid return type in method descriptor: %s", descriptor)
		}
	}
	return params, ret, nil
}

// fieldTypeEnd returns the index just past the field descriptor starting at
// s[i].
func fieldTypeEnd(s string, i int) (int, error) {
	// skip array dimensions
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type descriptor: %s", s)
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		semi := strings.IndexByte(s[i:], ';')
		if semi <= 1 {
			return 0, fmt.Errorf("unterminated class name in descriptor: %s", s)
		}
		return i + semi + 1, nil
	}
	return 0, fmt.Errorf("invalid type descriptor char '%c' in %s", s[i], s)
}

// referencedClass returns the class a field descriptor names: the binary
// name for an object type, the descriptor itself for an array type.
func referencedClass(fieldDescriptor string) (string, bool) {
	switch {
	case strings.HasPrefix(fieldDescriptor, "["):
		return fieldDescriptor, true
	case strings.HasPrefix(fieldDescriptor, "L") && strings.HasSuffix(fieldDescriptor, ";"):
		return fieldDescriptor[1 : len(fieldDescriptor)-1], true
	}
	return "", false
}
