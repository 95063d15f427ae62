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
	"fmt"

	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

// resolveHandle produces the handle of s for the device class dev.
// Default and 2D get the kernel handle. CPU gets the mapped region, mapping
// s on first use. Every other class is unsupported and yields the zero Handle.
func resolveHandle(s *surface.Surface, dev api.DeviceClass) (api.Handle, error) {
	switch dev {
	case api.DeviceDefault, api.Device2D:
		return api.Handle{U32: s.Handle}, nil
	case api.DeviceCPU:
		mem, err := s.Map()
		if err != nil {
			return api.Handle{}, fmt.Errorf("%w: %w", ErrInternal, err)
		}
		return api.Handle{Ptr: mem}, nil
	case api.Device3D, api.DeviceMM:
		return api.Handle{}, fmt.Errorf("%w: device class %s", ErrUnsupported, dev)
	}
	return api.Handle{}, fmt.Errorf("%w: device class %d", ErrUnsupported, int(dev))
}
