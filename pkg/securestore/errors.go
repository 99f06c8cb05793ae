package securestore

import "errors"

var errNoRBPStore = errors.New("securestore: REQUIRE_REPLAY_PROTECTION set but no rollback-protection store configured")
