// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateModelName checks that name can be used as a collection name.
//
// Validation rules:
//   - name must not be empty
//   - name must be an identifier (letters, digits, underscore; no leading digit)
func ValidateModelName(name string) error {
	if name == "" {
		return ErrMissingModelName
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidModelName, name)
	}
	return nil
}

// ValidatePropertyName checks that name can be spliced into query text.
func ValidatePropertyName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPropertyName, name)
	}
	return nil
}

// ValidateModel validates a model and, recursively, every nested model.
//
// Validation rules:
//   - the model must not be nil
//   - the model name must be valid
//   - every property name must be valid
//
// NOT validated:
//   - ID (empty until the first save)
//   - cycles (detected by the mapper)
func ValidateModel(m Model) error {
	return validateModel(m, 0)
}

// maxValidationDepth bounds recursion so a cyclic graph fails instead of
// overflowing the stack.
const maxValidationDepth = 64

func validateModel(m Model, depth int) error {
	if m == nil {
		return fmt.Errorf("%w: model is nil", ErrMapping)
	}
	if depth > maxValidationDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrCycle, maxValidationDepth)
	}
	if err := ValidateModelName(m.ModelName()); err != nil {
		return err
	}
	for name, value := range m.Properties() {
		if err := ValidatePropertyName(name); err != nil {
			return err
		}
		if err := validateValue(value, depth); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	return nil
}

func validateValue(v Value, depth int) error {
	switch v.Kind() {
	case KindModel:
		nested, _ := v.AsModel()
		return validateModel(nested, depth+1)
	case KindList:
		items, _ := v.AsList()
		for _, item := range items {
			if err := validateValue(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
