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

package runtime

import (
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"
)

// runManifest is the small per-run summary Fini writes alongside
// synthesized inputs, so an external harness correlating multiple
// runs (spec §6's instance_id/session_id "cosmetic identifiers for
// external log correlation") doesn't have to scrape stderr.
type runManifest struct {
	InstanceID     string `json:"instance_id"`
	SessionID      string `json:"session_id"`
	Program        string `json:"program,omitempty"`
	TaintFile      string `json:"taint_file"`
	EmittedInputs  uint32 `json:"emitted_inputs"`
	DerivedLabels  uint32 `json:"derived_labels"`
	GeneratedAtUTC string `json:"generated_at_utc"`
}

// writeManifest marshals a runManifest with sigs.k8s.io/yaml, the same
// library and struct-tag idiom a teacher config type uses, into
// <output_dir>/run-manifest.yaml.
func (lc *Lifecycle) writeManifest() error {
	m := runManifest{
		InstanceID:     lc.Config.InstanceID,
		SessionID:      lc.Config.SessionID,
		Program:        lc.program,
		TaintFile:      lc.Config.TaintFile,
		EmittedInputs:  lc.Synth.Count(),
		DerivedLabels:  lc.Store.Len(),
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	path := filepath.Join(lc.Config.OutputDir, "run-manifest.yaml")
	return os.WriteFile(path, out, 0o644)
}
