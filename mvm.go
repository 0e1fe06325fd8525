package mvm

import "github.com/mvm-go/mvm/image"

// EngineVersion is the semver of this engine build, re-exported from
// image.EngineVersion. Snapshots do not record it.
var EngineVersion = image.EngineVersion
