package retrieval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePolicyTable(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestPolicyResolver_MissingTableUsesDefaults(t *testing.T) {
	t.Parallel()

	r := NewPolicyResolver(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	policy := r.Resolve("https://unknown.example.com/article")
	require.Equal(t, TierDisambiguation, policy.StartingTier)
	require.False(t, policy.JSLikely)
	require.False(t, policy.ScrapeResistant)
}

func TestPolicyResolver_EmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	r := NewPolicyResolver("", zap.NewNop())
	require.Equal(t, TierDisambiguation, r.Resolve("https://example.com/x").StartingTier)
}

func TestPolicyResolver_BrowserOnlyDomain(t *testing.T) {
	t.Parallel()

	path := writePolicyTable(t, `
browser_only:
  - heavyjs.example.com
js_heavy:
  - spa.example.com
scrape_resistant:
  - fortress.example.com
`)
	r := NewPolicyResolver(path, zap.NewNop())

	policy := r.Resolve("https://heavyjs.example.com/reviews/car")
	require.Equal(t, TierBrowser, policy.StartingTier)
	require.True(t, policy.JSLikely)

	policy = r.Resolve("https://spa.example.com/reviews/car")
	require.Equal(t, TierDisambiguation, policy.StartingTier)
	require.True(t, policy.JSLikely)

	policy = r.Resolve("https://fortress.example.com/anything")
	require.True(t, policy.ScrapeResistant)
}

func TestPolicyResolver_SubdomainSuffixMatch(t *testing.T) {
	t.Parallel()

	path := writePolicyTable(t, "js_heavy:\n  - example.com\n")
	r := NewPolicyResolver(path, zap.NewNop())

	require.True(t, r.Resolve("https://www.example.com/p").JSLikely)
	require.True(t, r.Resolve("https://blog.example.com/p").JSLikely)
	require.False(t, r.Resolve("https://example.org/p").JSLikely)
}

func TestPolicyResolver_MalformedTableUsesDefaults(t *testing.T) {
	t.Parallel()

	path := writePolicyTable(t, "browser_only: {not a list\n")
	r := NewPolicyResolver(path, zap.NewNop())
	require.Equal(t, TierDisambiguation, r.Resolve("https://example.com/p").StartingTier)
}
