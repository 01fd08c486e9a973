package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetValueNormalizes(t *testing.T) {
	a := SetValue("b", "a", "a", "")
	assert.Equal(t, []string{"a", "b"}, a.AsStringSet())
}

func TestValueAsStringSetCoercesScalar(t *testing.T) {
	v := StringValue("j@x.com")
	assert.Equal(t, []string{"j@x.com"}, v.AsStringSet())

	empty := StringValue("")
	assert.Nil(t, empty.AsStringSet())
}

func TestAsStringSetListVsScalarOverlap(t *testing.T) {
	list := SetValue("j@x.com", "j@y.com")
	scalar := StringValue("j@x.com")

	listSet := map[string]struct{}{}
	for _, s := range list.AsStringSet() {
		listSet[s] = struct{}{}
	}
	var overlap bool
	for _, s := range scalar.AsStringSet() {
		if _, ok := listSet[s]; ok {
			overlap = true
		}
	}
	assert.True(t, overlap, "list and scalar sharing an element must be detectable as overlap, not a type mismatch")
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := NewRecord("p1", map[string]Value{"name": StringValue("Tony")})
	clone := r.Clone()
	clone.Attributes["name"] = StringValue("Anthony")

	assert.Equal(t, "Tony", r.String("name"))
	assert.Equal(t, "Anthony", clone.String("name"))
}
