package extractors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTrace = `java.lang.NullPointerException: Customer not found for id 4711
	at com.acme.card.CustomerLookup.resolve(CustomerLookup.kt:45)
	at com.acme.card.CardHandler$Companion.handleEvent(CardHandler.kt:112)
	at org.springframework.web.method.support.InvocableHandlerMethod.invoke(InvocableHandlerMethod.java:205)
	at java.lang.Thread.run(Thread.java:833)
Caused by: java.lang.IllegalStateException: upstream closed
	at com.acme.card.UpstreamClient.fetch(UpstreamClient.kt:77)`

func TestParseExtractsHeaderAndFrames(t *testing.T) {
	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.Parse(sampleTrace)

	assert.Equal(t, "java.lang.NullPointerException", parsed.ExceptionType)
	assert.Equal(t, "NullPointerException", parsed.ExceptionShort)
	assert.Equal(t, "Customer not found for id 4711", parsed.ExceptionMessage)
	assert.True(t, parsed.HasChainedCause)

	require.Len(t, parsed.Frames, 5)
	for i, frame := range parsed.Frames {
		assert.Equal(t, i, frame.Index)
		assert.Equal(t, i == 0, frame.IsRootFrame)
	}

	root := parsed.Frames[0]
	assert.Equal(t, "com.acme.card.CustomerLookup", root.ClassName)
	assert.Equal(t, "resolve", root.MethodName)
	assert.Equal(t, "CustomerLookup.kt", root.FileName)
	assert.Equal(t, 45, root.LineNumber)
	assert.True(t, root.IsOwnedPackage)
}

func TestParseOwnedFramesAndPaths(t *testing.T) {
	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.Parse(sampleTrace)

	require.Len(t, parsed.OwnedFrames, 3)
	assert.Equal(t, []string{
		"src/main/kotlin/com/acme/card/CardHandler.kt",
		"src/main/kotlin/com/acme/card/CustomerLookup.kt",
		"src/main/kotlin/com/acme/card/UpstreamClient.kt",
	}, parsed.UniqueFilePaths)
}

func TestParseInnerClassCollapsesToOuterFile(t *testing.T) {
	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.Parse("java.lang.IllegalStateException\n\tat com.acme.card.CardHandler$Companion.handleEvent(CardHandler.kt:112)")

	require.Len(t, parsed.OwnedFrames, 1)
	assert.Equal(t, "src/main/kotlin/com/acme/card/CardHandler.kt", parsed.OwnedFrames[0].FilePath)
}

func TestParseNativeAndUnknownSourceFrames(t *testing.T) {
	raw := `java.lang.RuntimeException: boom
	at jdk.internal.reflect.NativeMethodAccessorImpl.invoke0(Native Method)
	at com.acme.card.Mystery.call(Unknown Source)`

	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.Parse(raw)

	require.Len(t, parsed.Frames, 2)
	assert.Empty(t, parsed.Frames[0].FileName)
	assert.Empty(t, parsed.Frames[1].FileName)
	assert.Zero(t, parsed.Frames[0].LineNumber)
}

func TestParseJavaExtensionFollowsFrameFile(t *testing.T) {
	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.Parse("java.lang.RuntimeException\n\tat com.acme.legacy.Billing.charge(Billing.java:31)")

	require.Len(t, parsed.OwnedFrames, 1)
	assert.Equal(t, "src/main/java/com/acme/legacy/Billing.java", parsed.OwnedFrames[0].FilePath)
}

func TestParseHeaderWithoutMessage(t *testing.T) {
	p := NewStackTraceParser(nil)
	parsed := p.Parse("java.lang.IllegalStateException\n\tat com.acme.x.Y.z(Y.kt:1)")

	assert.Equal(t, "java.lang.IllegalStateException", parsed.ExceptionType)
	assert.Empty(t, parsed.ExceptionMessage)
	assert.False(t, parsed.HasChainedCause)
}

func TestParseEmptyInput(t *testing.T) {
	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.Parse("   \n ")

	assert.Empty(t, parsed.ExceptionType)
	assert.Empty(t, parsed.Frames)
}

func TestParseMessageFindsInlineFrames(t *testing.T) {
	msg := "request failed: java.util.NoSuchElementException: empty list\n\tat com.acme.card.Picker.pick(Picker.kt:9)"
	p := NewStackTraceParser([]string{"com.acme"})
	parsed := p.ParseMessage(msg)

	require.Len(t, parsed.Frames, 1)
	assert.Equal(t, "pick", parsed.Frames[0].MethodName)
}

func TestLoggerNameFilePaths(t *testing.T) {
	paths := LoggerNameFilePaths("com.acme.card.CardHandler$Companion")
	assert.Equal(t, []string{
		"src/main/kotlin/com/acme/card/CardHandler.kt",
		"src/main/java/com/acme/card/CardHandler.java",
	}, paths)

	assert.Nil(t, LoggerNameFilePaths(""))
}
