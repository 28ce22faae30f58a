// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "github.com/thejerf/suture/v4"

// Compile-time check that MockService satisfies suture.Service; the
// behavioral coverage (restart counts, failure injection)
// lives in tree_test.go against SupervisorTree itself rather than against
// bare suture.Supervisor, since that's the shape this package actually runs.
var _ suture.Service = (*MockService)(nil)
