package extractors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquestlabs/inquest-engine/internal/models"
)

const guardRemovalDiff = `--- a/src/main/kotlin/com/acme/card/CustomerLookup.kt
+++ b/src/main/kotlin/com/acme/card/CustomerLookup.kt
@@ -42,9 +42,7 @@ class CustomerLookup(
     fun resolve(id: String): Customer {
         val customer = repository.findById(id)
-        if (customer == null) {
-            throw CustomerMissingException(id)
-        }
+        return customer.toDomain()
-        return customer!!.toDomain()
     }
`

func TestParseUnifiedDiffLines(t *testing.T) {
	changed := ParseUnifiedDiff(guardRemovalDiff)

	assert.Equal(t, []int{44}, changed.Added)
	assert.Equal(t, []int{44, 45}, changed.Removed)
	require.Len(t, changed.Hunks, 1)
	assert.Equal(t, models.LineRange{Start: 42, End: 48}, changed.Hunks[0])
}

func TestParseUnifiedDiffMultipleHunks(t *testing.T) {
	diff := `@@ -10,3 +10,4 @@
 context
+added one
 context
 context
@@ -50,2 +51,3 @@
 context
+added two
 context
`
	changed := ParseUnifiedDiff(diff)

	assert.Equal(t, []int{11, 52}, changed.Added)
	assert.Empty(t, changed.Removed)
	require.Len(t, changed.Hunks, 2)
	assert.Equal(t, models.LineRange{Start: 10, End: 13}, changed.Hunks[0])
	assert.Equal(t, models.LineRange{Start: 51, End: 53}, changed.Hunks[1])
}

func TestChangedLinesContains(t *testing.T) {
	changed := ParseUnifiedDiff(guardRemovalDiff)

	kind, ok := changed.Contains(44)
	assert.True(t, ok)
	assert.Equal(t, models.ChangeKindAdded, kind)

	kind, ok = changed.Contains(45)
	assert.True(t, ok)
	assert.Equal(t, models.ChangeKindRemoved, kind)

	_, ok = changed.Contains(200)
	assert.False(t, ok)
}

func TestChangedLinesAll(t *testing.T) {
	changed := ParseUnifiedDiff(guardRemovalDiff)
	assert.Equal(t, []int{44, 45}, changed.All())
}

func TestScanDiffIssuesGuardAndErrorHandling(t *testing.T) {
	issues := ScanDiffIssues(guardRemovalDiff)

	categories := map[string]models.Severity{}
	for _, issue := range issues {
		categories[issue.Category] = issue.Severity
	}

	require.Len(t, issues, 1)
	assert.Equal(t, models.SeverityHigh, categories[IssueNullGuardRemoved])
}

func TestScanDiffIssuesNewException(t *testing.T) {
	diff := `@@ -5,2 +5,4 @@
 fun charge(amount: Long) {
+    if (amount <= 0) {
+        throw IllegalArgumentException("amount must be positive")
     }
`
	issues := ScanDiffIssues(diff)

	require.Len(t, issues, 1)
	assert.Equal(t, IssueNewException, issues[0].Category)
	assert.Equal(t, models.SeverityMedium, issues[0].Severity)
	assert.Equal(t, []int{7}, issues[0].LineNumbers)
	assert.Contains(t, issues[0].Snippet, "throw IllegalArgumentException")
}

func TestScanDiffIssuesTimingChange(t *testing.T) {
	diff := `@@ -12,3 +12,3 @@
 fun refresh() {
-    runBlocking { cache.reload() }
+    scope.launch { cache.reload() }
 }
`
	issues := ScanDiffIssues(diff)

	require.Len(t, issues, 1)
	assert.Equal(t, IssueTimingModified, issues[0].Category)
	assert.Equal(t, models.SeverityHigh, issues[0].Severity)
}

func TestScanDiffIssuesHardcodedSecret(t *testing.T) {
	diff := `@@ -1,1 +1,2 @@
 val client = buildClient()
+val apiKey = "sk-live-0bafc"
`
	issues := ScanDiffIssues(diff)

	require.Len(t, issues, 1)
	assert.Equal(t, IssueHardcodedSecret, issues[0].Category)
}

func TestScanDiffIssuesEmptyDiff(t *testing.T) {
	assert.Nil(t, ScanDiffIssues(""))
}
