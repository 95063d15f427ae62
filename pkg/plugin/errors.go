/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"errors"

	"github.com/srediag/plugin-bufmgr/pkg/format"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

var (
	// ErrUnsupported is returned for device classes, formats and sizes the
	// backend does not serve.
	ErrUnsupported = errors.New("bufmgr: unsupported")
	// ErrNotFound is returned when an import key names no surface.
	ErrNotFound = errors.New("bufmgr: not found")
	// ErrInternal wraps a failure of the surface store.
	ErrInternal = errors.New("bufmgr: internal error")
	// ErrDetached is returned by Detach on a device already detached.
	ErrDetached = errors.New("bufmgr: device detached")
)

// errorKind classifies err for the error counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupported),
		errors.Is(err, surface.ErrUnsupported),
		errors.Is(err, format.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrNotFound), errors.Is(err, surface.ErrNotFound):
		return "not_found"
	}
	return "internal"
}
