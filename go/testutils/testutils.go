// Convenience utilities for testing.
package testutils

import (
	"context"
	"fmt"
	"reflect"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/mock"
	assert "github.com/stretchr/testify/require"

	"github.com/stable-delusion/imagestore/go/sktest"
)

// AssertDeepEqual fails the test if the two objects do not pass reflect.DeepEqual.
func AssertDeepEqual(t sktest.TestingT, a, b interface{}) {
	if !reflect.DeepEqual(a, b) {
		assert.FailNow(t, fmt.Sprintf("Objects do not match: \na:\n%s\n\nb:\n%s\n", spew.Sprint(a), spew.Sprint(b)))
	}
}

// AnyContext matches any context.Context in the arguments of a mocked call,
// e.g. m.On("Foo", testutils.AnyContext, "bar").Return(...).
var AnyContext = mock.MatchedBy(func(c context.Context) bool {
	// If we get as far as calling the match function, we were passed
	// something that satisfies the context.Context interface.
	return true
})
