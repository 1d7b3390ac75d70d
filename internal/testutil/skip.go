package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if CASECHAT_TEST_SKIP_NETWORK is set.
// Use this for tests that bind TCP listeners or dial websockets, which may
// not be available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("CASECHAT_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: CASECHAT_TEST_SKIP_NETWORK is set")
	}
}
