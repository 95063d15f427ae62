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
	"github.com/srediag/plugin-bufmgr/api"
	"github.com/srediag/plugin-bufmgr/internal/logging"
	"github.com/srediag/plugin-bufmgr/pkg/surface"
)

// accessFlags translates host access options into store access flags.
func accessFlags(opt api.AccessOption) surface.AccessFlags {
	var saf surface.AccessFlags
	if opt&api.OptionRead != 0 {
		saf |= surface.SAFRead
	}
	if opt&api.OptionWrite != 0 {
		saf |= surface.SAFWrite
	}
	return saf
}

// beginAccess opens the access bracket on s. The bracket is bookkeeping
// only, so a failure is logged and not reported to the host.
func beginAccess(log *logging.Logger, s *surface.Surface, opt api.AccessOption) {
	if err := s.StartAccess(accessFlags(opt)); err != nil {
		log.Errorf("begin access %s: %s", s, err)
	}
}

// endAccess closes the bracket opened by beginAccess, synchronizing the
// surface.
func endAccess(log *logging.Logger, s *surface.Surface) {
	if err := s.EndAccess(true); err != nil {
		log.Errorf("end access %s: %s", s, err)
	}
}
