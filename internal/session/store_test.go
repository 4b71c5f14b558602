package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateSessionWithoutBindingHasNoEntry(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1")

	assert.True(t, s.Exists("s1"))
	_, ok := s.InstanceID("s1")
	assert.False(t, ok, "an unbound session must not appear in the session->instance map")
}

func TestBindCreatesEntry(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1")
	s.Bind("s1", "i1")

	id, ok := s.InstanceID("s1")
	assert.True(t, ok)
	assert.Equal(t, "i1", id)
}

func TestBindWithEmptyInstanceIsNoOp(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1")
	s.Bind("s1", "")

	_, ok := s.InstanceID("s1")
	assert.False(t, ok)
}

func TestDeleteRemovesSessionAndBinding(t *testing.T) {
	s := NewStore()
	s.CreateSession("s1")
	s.Bind("s1", "i1")

	s.Delete("s1")
	assert.False(t, s.Exists("s1"))
	_, ok := s.InstanceID("s1")
	assert.False(t, ok)
}

func TestResolveInstanceIDPrecedence(t *testing.T) {
	assert.Equal(t, "body", ResolveInstanceID("body", "header", "query"))
	assert.Equal(t, "header", ResolveInstanceID("", "header", "query"))
	assert.Equal(t, "query", ResolveInstanceID("", "", "query"))
	assert.Equal(t, "", ResolveInstanceID("", "", ""))
}

func TestAmbientSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "s1")
	got, ok := SessionIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s1", got)

	_, ok = SessionIDFromContext(context.Background())
	assert.False(t, ok)
}
