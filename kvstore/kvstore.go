// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package kvstore declares the narrow external key-value collaborator
// the cross-run deduplication filter (C9) needs: get/set on opaque
// string keys and values. A real deployment backs this with something
// shared across fuzzing-campaign workers (redis, a sqlite file, a
// shared directory of marker files); package kvstore/local provides an
// in-process, sharded-map implementation for standalone runs and tests.
package kvstore

// Store is the get/set collaborator package explore uses to remember
// which branch-context hashes have already been explored by any past
// run of this program (spec §4.9, §6 "External collaborators").
type Store interface {
	// Get returns the stored value for key and true, or ("", false) if
	// key has never been set.
	Get(key string) (string, bool)

	// Set stores value under key, creating or overwriting it.
	Set(key, value string) error
}
