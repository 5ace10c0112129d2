package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSemverProcess(t *testing.T) {
	assert.True(t, SemverProcess("16.20.1"))
	assert.True(t, SemverProcess("20.11.0"))
	assert.False(t, SemverProcess("python3.11"))
	assert.False(t, SemverProcess("bash"))
	assert.False(t, SemverProcess("node"))
	assert.False(t, SemverProcess("1..2"))
	assert.False(t, SemverProcess(""))
}

func TestParsePanes(t *testing.T) {
	out := "%1|work:0.0|16.20.1\n" +
		"%2|home:0.1|bash\n" +
		"%3|my-agent:0.0|20.11.0\n" +
		"malformed line\n"

	addrs := parsePanes(out, SemverProcess)

	assert.Len(t, addrs, 2)
	assert.Equal(t, AgentAddress{TargetID: "%1", Label: "work:0.0"}, addrs[0])
	assert.Equal(t, AgentAddress{TargetID: "%3", Label: "my-agent:0.0"}, addrs[1])
}

func TestParsePanesSanitizesLabels(t *testing.T) {
	out := "%1|wo\x1brk:0.0   extra|16.20.1\n"

	addrs := parsePanes(out, SemverProcess)

	assert.Len(t, addrs, 1)
	assert.Equal(t, "work:0.0 extra", addrs[0].Label)
}

func TestStripControlRemovesANSIAndControls(t *testing.T) {
	got := StripControl("\x1b[31mred\x1b[0m normal\x01hidden")
	assert.Equal(t, "red normalhidden", got)
}

func TestStripControlRemovesLoneControlChars(t *testing.T) {
	assert.Equal(t, "clean", StripControl("clean\x01"))
}

func TestStripControlKeepsNewlines(t *testing.T) {
	assert.Equal(t, "a\nb", StripControl("a\nb"))
}

func TestSameTargetIgnoresLabel(t *testing.T) {
	a := AgentAddress{TargetID: "%1", Label: "work:0.0"}
	b := AgentAddress{TargetID: "%1", Label: "renamed:0.0"}
	c := AgentAddress{TargetID: "%2", Label: "work:0.0"}

	assert.True(t, a.SameTarget(b))
	assert.False(t, a.SameTarget(c))
}
