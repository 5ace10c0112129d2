package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/courier/core/classify"
	"github.com/adalundhe/courier/core/directory"
)

// recordingClassifier counts calls and returns a canned answer.
type recordingClassifier struct {
	calls int
	match *classify.Match
	err   error
}

func (c *recordingClassifier) Classify(ctx context.Context, body string, labels []string) (*classify.Match, error) {
	c.calls++
	return c.match, c.err
}

func addr(id, label string) directory.AgentAddress {
	return directory.AgentAddress{TargetID: id, Label: label}
}

func newTestResolver(classifier classify.Classifier) (*Resolver, *Memory) {
	memory := NewMemory()
	return NewResolver(memory, classifier, "", nil), memory
}

func TestResolveExactTagMatch(t *testing.T) {
	r, _ := newTestResolver(nil)
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "home:0.1")}

	got, body, ok := r.Resolve(context.Background(), "work:0.0", true, "hi there", sessions)

	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)
	assert.Equal(t, "hi there", body)
}

func TestResolveTagSubstringMatch(t *testing.T) {
	r, _ := newTestResolver(nil)
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "Home:0.1")}

	got, _, ok := r.Resolve(context.Background(), "home", true, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%2", got.TargetID)
}

func TestResolveUnmatchedTagFailsWithoutFallthrough(t *testing.T) {
	classifier := &recordingClassifier{match: &classify.Match{Label: "work:0.0", Cleaned: "hi"}}
	r, memory := newTestResolver(classifier)
	memory.SetLastRouted(addr("%1", "work:0.0"))
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "my-agent:0.0")}

	_, _, ok := r.Resolve(context.Background(), "nonexistent", true, "hi", sessions)

	assert.False(t, ok)
	assert.Zero(t, classifier.calls, "tagged input must never reach the classifier")
}

func TestResolveSemanticMatch(t *testing.T) {
	classifier := &recordingClassifier{match: &classify.Match{Label: "home:0.1", Cleaned: "build is green"}}
	r, _ := newTestResolver(classifier)
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "home:0.1")}

	got, body, ok := r.Resolve(context.Background(), "", false, "ask home, build is green", sessions)

	require.True(t, ok)
	assert.Equal(t, "%2", got.TargetID)
	assert.Equal(t, "build is green", body)
	assert.Equal(t, 1, classifier.calls)
}

func TestResolveSkipsClassifierForSingleSession(t *testing.T) {
	classifier := &recordingClassifier{}
	r, _ := newTestResolver(classifier)
	sessions := []directory.AgentAddress{addr("%1", "my-agent:0.0")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)
	assert.Zero(t, classifier.calls, "classification is pointless with one candidate")
}

func TestResolveClassifierErrorFallsThrough(t *testing.T) {
	classifier := &recordingClassifier{err: errors.New("api down")}
	r, memory := newTestResolver(classifier)
	memory.SetLastRouted(addr("%2", "home:0.1"))
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "home:0.1")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%2", got.TargetID)
}

func TestResolveClassifierAnswerBidirectionalSubstring(t *testing.T) {
	classifier := &recordingClassifier{match: &classify.Match{Label: "the home session", Cleaned: "hi"}}
	r, _ := newTestResolver(classifier)
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "home")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%2", got.TargetID)
}

func TestResolveLastRoutedBeatsFallbackLabel(t *testing.T) {
	r, memory := newTestResolver(nil)
	memory.SetLastRouted(addr("%1", "courier:0.3"))
	sessions := []directory.AgentAddress{addr("%1", "courier:0.3"), addr("%2", "my-agent:0.0")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)
}

func TestResolveLastRoutedMatchedByIdentityNotLabel(t *testing.T) {
	r, memory := newTestResolver(nil)
	memory.SetLastRouted(addr("%1", "old-name:0.0"))
	sessions := []directory.AgentAddress{addr("%1", "renamed:0.0"), addr("%2", "my-agent:0.0")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)
}

func TestResolveNotificationSourceBeatsFallbackWhenLastRoutedDead(t *testing.T) {
	r, memory := newTestResolver(nil)
	memory.SetLastRouted(addr("%9", "gone:0.0"))
	memory.SetLastNotificationSource(addr("%3", "alir-app:0.1"))
	sessions := []directory.AgentAddress{addr("%3", "alir-app:0.1"), addr("%4", "my-agent:0.0")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%3", got.TargetID)
}

func TestResolveFallbackLabel(t *testing.T) {
	r, _ := newTestResolver(nil)
	sessions := []directory.AgentAddress{addr("%1", "my-agent:0.0")}

	got, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)
}

func TestResolveNoMatchAtAll(t *testing.T) {
	r, _ := newTestResolver(nil)
	sessions := []directory.AgentAddress{addr("%1", "work:0.0")}

	_, _, ok := r.Resolve(context.Background(), "", false, "hi", sessions)

	assert.False(t, ok)
}

func TestResolveEndToEndTaggedMessage(t *testing.T) {
	r, _ := newTestResolver(nil)
	sessions := []directory.AgentAddress{addr("%1", "work:0.0"), addr("%2", "home:0.1")}

	tag, body, hasTag := ParseTag("[home] build is green")
	got, cleaned, ok := r.Resolve(context.Background(), tag, hasTag, body, sessions)

	require.True(t, ok)
	assert.Equal(t, "home:0.1", got.Label)
	assert.Equal(t, "build is green", cleaned)
}
