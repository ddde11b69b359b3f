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

import "errors"

// Mapping and engine errors. Store failures are reported by the storage
// package and propagate unchanged.
var (
	// ErrNotConnected indicates an operation was attempted without a store connection.
	ErrNotConnected = errors.New("no store connection")

	// ErrUnknownModel indicates a model name with no matching collection or registration.
	ErrUnknownModel = errors.New("unknown model")

	// ErrTypeResolution indicates the registry could not load a concrete type it declares.
	ErrTypeResolution = errors.New("type resolution failed")

	// ErrMapping indicates a model could not be instantiated or copied.
	ErrMapping = errors.New("mapping failed")

	// ErrMissingModelName indicates a model without a logical name.
	ErrMissingModelName = errors.New("model name cannot be empty")

	// ErrInvalidModelName indicates a model name that is not a valid identifier.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPropertyName indicates a property name that is not a valid identifier.
	ErrInvalidPropertyName = errors.New("invalid property name")

	// ErrEmptyProperties indicates a property query with no properties.
	ErrEmptyProperties = errors.New("property map cannot be empty")

	// ErrMissingIdentity indicates an identity-addressed operation on an unsaved model.
	ErrMissingIdentity = errors.New("model has no identity")

	// ErrUnsupportedValue indicates a value that has no property representation.
	ErrUnsupportedValue = errors.New("unsupported property value")

	// ErrCycle indicates a model graph that refers back to itself.
	ErrCycle = errors.New("cyclic model graph")
)
